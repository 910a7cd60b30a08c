// Package engine implements the two-phase sponsorship protocol: Validate
// authorizes a voucher before execution without moving funds; Settle runs
// after execution, computes what is owed, and in ERC20 mode pulls the token
// payment from the sender into the treasury.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/defi-bear/paymaster/internal/journal"
	"github.com/defi-bear/paymaster/internal/registry"
	"github.com/defi-bear/paymaster/internal/token"
	"github.com/defi-bear/paymaster/internal/userop"
	"github.com/defi-bear/paymaster/internal/voucher"
)

// Authorization and settlement failures. All are permanent; there is no
// retryable class in this protocol.
var (
	ErrCallerNotHost      = errors.New("engine: caller is not a registered execution host")
	ErrSignatureInvalid   = errors.New("engine: voucher signer not registered")
	ErrExpired            = errors.New("engine: voucher expired")
	ErrNotYetValid        = errors.New("engine: voucher not yet valid")
	ErrTransferFromFailed = errors.New("engine: token transferFrom failed")
	ErrNotSelf            = errors.New("engine: attemptTransfer is self-call only")
	ErrAlreadySettled     = errors.New("engine: settlement context already consumed")
)

// 1e18 fixed-point denominator for the signer-attested exchange rate.
var priceDenominator = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Prefunder reserves a verifying-mode advance against the sender's standing
// balance when the host's pre-funding model requires it. Optional.
type Prefunder interface {
	Reserve(ctx context.Context, sender common.Address, amount *big.Int) error
}

// Engine is the singleton validation-and-settlement engine. One instance
// serves every integration; the host serializes all calls, so the only
// internal locking is the registry's own.
type Engine struct {
	self     common.Address // the paymaster's own address, hash domain + self-call identity
	chainID  *big.Int
	hosts    map[common.Address]struct{} // registered execution host addresses
	registry *registry.Registry
	transfer token.Transferer
	prefund  Prefunder // may be nil
	journal  *journal.Journal
	log      *zap.Logger
	now      func() time.Time
}

type Config struct {
	Self     common.Address
	ChainID  *big.Int
	Hosts    []common.Address
	Registry *registry.Registry
	Transfer token.Transferer
	Prefund  Prefunder
	Journal  *journal.Journal
	Log      *zap.Logger
	Now      func() time.Time // defaults to time.Now
}

func New(cfg Config) *Engine {
	hosts := make(map[common.Address]struct{}, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		hosts[h] = struct{}{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		self:     cfg.Self,
		chainID:  cfg.ChainID,
		hosts:    hosts,
		registry: cfg.Registry,
		transfer: cfg.Transfer,
		prefund:  cfg.Prefund,
		journal:  cfg.Journal,
		log:      cfg.Log,
		now:      now,
	}
}

// Validate is the pre-charge phase: decode the voucher from the operation's
// paymaster tail, verify the attestation, and hand back the settlement
// context plus the voucher's expiry as the operation's validity deadline.
// No tokens move here. A failure aborts inclusion of the operation.
func (e *Engine) Validate(
	ctx context.Context,
	caller common.Address,
	op *userop.Operation,
	opHash common.Hash,
	maxCost *big.Int,
) (*SettlementContext, uint64, error) {
	if _, ok := e.hosts[caller]; !ok {
		return nil, 0, ErrCallerNotHost
	}

	v, err := voucher.Decode(op.VoucherData)
	if err != nil {
		return nil, 0, err
	}
	if err := e.authorize(op, v); err != nil {
		return nil, 0, err
	}

	if v.Mode == voucher.ModeVerifying && e.prefund != nil && v.FundAmount.Sign() > 0 {
		if err := e.prefund.Reserve(ctx, op.Sender, v.FundAmount); err != nil {
			return nil, 0, fmt.Errorf("reserve fund amount: %w", err)
		}
	}

	sctx := &SettlementContext{
		Sender:       op.Sender,
		FeeToken:     v.FeeToken,
		ExchangeRate: v.ExchangeRate,
		OpHash:       opHash,
	}
	if op.Version == userop.VersionLegacy {
		sctx.MaxFeePerGas = op.MaxFeePerGas
		sctx.MaxPriorityFeePerGas = op.MaxPriorityFeePerGas
	}

	e.log.Debug("voucher authorized",
		zap.String("sender", op.Sender.Hex()),
		zap.String("op_hash", opHash.Hex()),
		zap.String("mode", v.Mode.String()),
		zap.String("max_cost", maxCost.String()),
	)
	return sctx, v.ValidUntil, nil
}

// authorize recomputes the canonical digest, recovers the attesting signer,
// and checks registry membership and the validity window.
func (e *Engine) authorize(op *userop.Operation, v *voucher.Voucher) error {
	digest := voucher.SigningHash(op, v, e.chainID, e.self)
	signer, err := voucher.RecoverSigner(digest, v.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !e.registry.IsSigner(signer) {
		return ErrSignatureInvalid
	}

	now := uint64(e.now().Unix())
	if v.ValidUntil != 0 && now >= v.ValidUntil {
		return ErrExpired
	}
	if now < v.ValidAfter {
		return ErrNotYetValid
	}
	return nil
}

// Settle is the post-execution phase. In verifying mode it only records the
// sponsorship; in ERC20 mode it pulls actualGasCost × exchangeRate / 1e18
// tokens from the sender into the treasury. A SettlePostOpReverted call is
// the host notifying us that the previous settle failed: nothing is pulled
// and nothing fails, so the host can finalize the operation.
func (e *Engine) Settle(
	ctx context.Context,
	caller common.Address,
	mode SettleMode,
	sctx *SettlementContext,
	actualGasCost *big.Int,
) error {
	if _, ok := e.hosts[caller]; !ok {
		return ErrCallerNotHost
	}

	if mode == SettlePostOpReverted {
		e.log.Warn("settlement reverted, skipping token pull",
			zap.String("op_hash", sctx.OpHash.Hex()),
			zap.String("sender", sctx.Sender.Hex()),
		)
		return nil
	}
	if sctx.settled {
		return ErrAlreadySettled
	}

	// Verifying mode: nothing owed, record the free sponsorship.
	if sctx.ExchangeRate == nil {
		sctx.settled = true
		e.record(ctx, journal.Record{
			Kind:        journal.KindSponsorship,
			OpHash:      sctx.OpHash,
			Sender:      sctx.Sender,
			ERC20:       false,
			TokenAmount: "0",
			Price:       "0",
		})
		return nil
	}

	amount := tokenAmount(actualGasCost, sctx.ExchangeRate)
	treasury := e.registry.Treasury()
	if err := e.AttemptTransfer(ctx, e.self, sctx.FeeToken, sctx.Sender, treasury, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFromFailed, err)
	}

	sctx.settled = true
	e.record(ctx, journal.Record{
		Kind:        journal.KindSponsorship,
		OpHash:      sctx.OpHash,
		Sender:      sctx.Sender,
		ERC20:       true,
		TokenAmount: amount.String(),
		Price:       sctx.ExchangeRate.String(),
	})
	return nil
}

// AttemptTransfer performs the token pull on the engine's behalf. It is
// self-call only: any caller other than the engine's own address is
// rejected, so the pull step stays wrapped behind the typed settlement
// failure instead of leaking raw transfer reverts.
func (e *Engine) AttemptTransfer(ctx context.Context, caller, feeToken, from, to common.Address, amount *big.Int) error {
	if caller != e.self {
		return ErrNotSelf
	}
	return e.transfer.TransferFrom(ctx, feeToken, from, to, amount)
}

func tokenAmount(gasCost, rate *big.Int) *big.Int {
	amount := new(big.Int).Mul(gasCost, rate)
	return amount.Div(amount, priceDenominator)
}

func (e *Engine) record(ctx context.Context, rec journal.Record) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, rec); err != nil {
		e.log.Error("settle: journal append", zap.String("op_hash", rec.OpHash.Hex()), zap.Error(err))
	}
}
