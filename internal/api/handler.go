// Package api exposes the paymaster's HTTP surface: an ERC-7677-style
// sponsorship endpoint that returns signed paymaster data for a submitted
// operation, and owner-authenticated admin routes for the signer set and
// treasury.
package api

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/defi-bear/paymaster/internal/engine"
	"github.com/defi-bear/paymaster/internal/journal"
	"github.com/defi-bear/paymaster/internal/registry"
	"github.com/defi-bear/paymaster/internal/sponsor"
	"github.com/defi-bear/paymaster/internal/userop"
	"github.com/defi-bear/paymaster/internal/voucher"
)

// Handler wires the sponsorship and admin routes onto a Gin engine.
type Handler struct {
	sponsor *sponsor.Sponsor
	reg     *registry.Registry
	jrnl    *journal.Journal
	eng     *engine.Engine
	hosts   map[userop.Version]common.Address
	chainID *big.Int
	log     *zap.Logger
}

func NewHandler(
	sp *sponsor.Sponsor,
	reg *registry.Registry,
	jrnl *journal.Journal,
	eng *engine.Engine,
	hosts map[userop.Version]common.Address,
	chainID *big.Int,
	log *zap.Logger,
) *Handler {
	return &Handler{sponsor: sp, reg: reg, jrnl: jrnl, eng: eng, hosts: hosts, chainID: chainID, log: log}
}

// Register mounts the routes. adminMW must already enforce owner signatures.
func (h *Handler) Register(r *gin.Engine, adminMW gin.HandlerFunc) {
	r.POST("/sponsor", h.handleSponsor)
	r.POST("/validate", h.handleValidate)

	admin := r.Group("/admin", adminMW)
	admin.POST("/signers/:addr", h.handleAddSigner)
	admin.DELETE("/signers/:addr", h.handleRemoveSigner)
	admin.PUT("/treasury/:addr", h.handleSetTreasury)

	r.GET("/signers/:addr", h.handleIsSigner)
	r.GET("/treasury", h.handleTreasury)
	r.GET("/records", h.handleRecords)
}

// SponsorRequest carries the not-yet-sponsored operation plus the terms the
// caller negotiated off-band. All numeric fields are 0x-prefixed hex.
type SponsorRequest struct {
	Version              string         `json:"version" binding:"required,oneof=legacy packed"`
	Sender               common.Address `json:"sender" binding:"required"`
	Nonce                *hexutil.Big   `json:"nonce" binding:"required"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit" binding:"required"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit" binding:"required"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas" binding:"required"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas" binding:"required"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas" binding:"required"`

	// Paymaster gas limits, packed encoding only.
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit"`

	// Sponsorship terms.
	Mode         uint8          `json:"mode"`
	ValidUntil   uint64         `json:"validUntil"`
	ValidAfter   uint64         `json:"validAfter"`
	FeeToken     common.Address `json:"feeToken"`
	ExchangeRate *hexutil.Big   `json:"exchangeRate"`
	FundAmount   *hexutil.Big   `json:"fundAmount"`
}

type SponsorResponse struct {
	Paymaster        common.Address `json:"paymaster"`
	PaymasterAndData hexutil.Bytes  `json:"paymasterAndData"`
	ValidUntil       uint64         `json:"validUntil"`
}

func (h *Handler) handleSponsor(c *gin.Context) {
	var req SponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	version := userop.VersionLegacy
	if req.Version == "packed" {
		version = userop.VersionPacked
	}

	op := &userop.Operation{
		Version:              version,
		Sender:               req.Sender,
		Nonce:                (*big.Int)(req.Nonce),
		InitCode:             req.InitCode,
		CallData:             req.CallData,
		CallGasLimit:         (*big.Int)(req.CallGasLimit),
		VerificationGasLimit: (*big.Int)(req.VerificationGasLimit),
		PreVerificationGas:   (*big.Int)(req.PreVerificationGas),
		MaxFeePerGas:         (*big.Int)(req.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(req.MaxPriorityFeePerGas),
	}

	v := &voucher.Voucher{
		Mode:       voucher.Mode(req.Mode),
		ValidUntil: req.ValidUntil,
		ValidAfter: req.ValidAfter,
		FundAmount: bigOrZero(req.FundAmount),
	}
	switch v.Mode {
	case voucher.ModeVerifying:
	case voucher.ModeERC20:
		if req.FeeToken == (common.Address{}) || req.ExchangeRate == nil || (*big.Int)(req.ExchangeRate).Sign() == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "erc20 mode requires feeToken and exchangeRate"})
			return
		}
		v.FeeToken = req.FeeToken
		v.ExchangeRate = (*big.Int)(req.ExchangeRate)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode"})
		return
	}

	if err := h.sponsor.Sign(op, v); err != nil {
		h.log.Error("sponsor sign", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signing failed"})
		return
	}

	data := h.sponsor.PaymasterAndData(
		version,
		bigOrZero(req.PaymasterVerificationGasLimit),
		bigOrZero(req.PaymasterPostOpGasLimit),
		v,
	)

	c.JSON(http.StatusOK, SponsorResponse{
		Paymaster:        common.BytesToAddress(data[:common.AddressLength]),
		PaymasterAndData: data,
		ValidUntil:       v.ValidUntil,
	})
}

// ValidateRequest is a complete wire-encoded operation, paymaster field
// included. The engine runs the full authorization path against it without
// moving any funds, so integrators can dry-run sponsorship data before
// submission.
type ValidateRequest struct {
	Version              string         `json:"version" binding:"required,oneof=legacy packed"`
	Sender               common.Address `json:"sender" binding:"required"`
	Nonce                *hexutil.Big   `json:"nonce" binding:"required"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit" binding:"required"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit" binding:"required"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas" binding:"required"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas" binding:"required"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas" binding:"required"`
	// The complete field, version-specific header included. For the packed
	// encoding the paymaster gas limits travel inside the header.
	PaymasterAndData hexutil.Bytes `json:"paymasterAndData" binding:"required"`
}

type ValidateResponse struct {
	Valid      bool        `json:"valid"`
	Reason     string      `json:"reason,omitempty"`
	OpHash     common.Hash `json:"opHash"`
	ValidUntil uint64      `json:"validUntil,omitempty"`
}

func (h *Handler) handleValidate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	version := userop.VersionLegacy
	if req.Version == "packed" {
		version = userop.VersionPacked
	}
	host, ok := h.hosts[version]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no entry point configured for " + req.Version})
		return
	}

	op, err := h.normalizeRequest(&req, version)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opHash := op.Hash(host, h.chainID)
	maxCost := new(big.Int).Add(op.CallGasLimit, op.VerificationGasLimit)
	maxCost.Add(maxCost, op.PreVerificationGas)
	maxCost.Mul(maxCost, op.MaxFeePerGas)

	_, deadline, err := h.eng.Validate(c.Request.Context(), host, op, opHash, maxCost)
	if err != nil {
		c.JSON(http.StatusOK, ValidateResponse{Valid: false, Reason: err.Error(), OpHash: opHash})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{Valid: true, OpHash: opHash, ValidUntil: deadline})
}

func (h *Handler) normalizeRequest(req *ValidateRequest, version userop.Version) (*userop.Operation, error) {
	if version == userop.VersionLegacy {
		raw := &userop.UserOperation{
			Sender:               req.Sender,
			Nonce:                (*big.Int)(req.Nonce),
			InitCode:             req.InitCode,
			CallData:             req.CallData,
			CallGasLimit:         (*big.Int)(req.CallGasLimit),
			VerificationGasLimit: (*big.Int)(req.VerificationGasLimit),
			PreVerificationGas:   (*big.Int)(req.PreVerificationGas),
			MaxFeePerGas:         (*big.Int)(req.MaxFeePerGas),
			MaxPriorityFeePerGas: (*big.Int)(req.MaxPriorityFeePerGas),
			PaymasterAndData:     req.PaymasterAndData,
		}
		return raw.Normalize()
	}
	raw := &userop.PackedUserOperation{
		Sender:             req.Sender,
		Nonce:              (*big.Int)(req.Nonce),
		InitCode:           req.InitCode,
		CallData:           req.CallData,
		AccountGasLimits:   userop.PackPair((*big.Int)(req.VerificationGasLimit), (*big.Int)(req.CallGasLimit)),
		PreVerificationGas: (*big.Int)(req.PreVerificationGas),
		GasFees:            userop.PackPair((*big.Int)(req.MaxPriorityFeePerGas), (*big.Int)(req.MaxFeePerGas)),
		PaymasterAndData:   req.PaymasterAndData,
	}
	return raw.Normalize()
}

// ── admin ──────────────────────────────────────────────────────────────────

func (h *Handler) handleAddSigner(c *gin.Context) {
	addr := common.HexToAddress(c.Param("addr"))
	if err := h.reg.AddSigner(c.Request.Context(), h.reg.Owner(), addr); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": addr.Hex()})
}

func (h *Handler) handleRemoveSigner(c *gin.Context) {
	addr := common.HexToAddress(c.Param("addr"))
	if err := h.reg.RemoveSigner(c.Request.Context(), h.reg.Owner(), addr); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": addr.Hex()})
}

func (h *Handler) handleSetTreasury(c *gin.Context) {
	addr := common.HexToAddress(c.Param("addr"))
	if err := h.reg.SetTreasury(c.Request.Context(), h.reg.Owner(), addr); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"treasury": addr.Hex()})
}

// ── read-only ──────────────────────────────────────────────────────────────

func (h *Handler) handleIsSigner(c *gin.Context) {
	addr := common.HexToAddress(c.Param("addr"))
	c.JSON(http.StatusOK, gin.H{
		"address":   addr.Hex(),
		"is_signer": h.reg.IsSigner(addr),
	})
}

func (h *Handler) handleTreasury(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"treasury": h.reg.Treasury().Hex()})
}

func (h *Handler) handleRecords(c *gin.Context) {
	n, err := strconv.ParseInt(c.DefaultQuery("n", "50"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
		return
	}
	records, err := h.jrnl.Tail(c.Request.Context(), n)
	if err != nil {
		h.log.Error("journal tail", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return (*big.Int)(v)
}
