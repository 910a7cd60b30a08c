// Package userop normalizes the two entry-point wire encodings of a user
// operation into a single internal view consumed by the validation and
// settlement engine. The legacy (v0.6-style) encoding carries flat gas
// fields and a 20-byte paymaster header; the packed (v0.7-style) encoding
// carries accountGasLimits/gasFees as 32-byte pairs and a 52-byte paymaster
// header. Both adapters must feed the same canonical hash derivation.
package userop

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Version identifies which entry-point wire encoding an operation arrived in.
type Version uint8

const (
	VersionLegacy Version = iota // flat fields, 20-byte paymaster header
	VersionPacked                // packed gas pairs, 52-byte paymaster header
)

func (v Version) String() string {
	switch v {
	case VersionLegacy:
		return "legacy"
	case VersionPacked:
		return "packed"
	default:
		return "unknown"
	}
}

const (
	legacyHeaderLen = common.AddressLength      // paymaster address only
	packedHeaderLen = common.AddressLength + 32 // address ‖ u128 validation gas ‖ u128 postOp gas
)

// ErrNoPaymaster rejects operations whose paymaster field is shorter than
// the encoding's fixed header.
var ErrNoPaymaster = errors.New("userop: paymasterAndData missing paymaster header")

// Operation is the normalized view shared by both adapters. VoucherData is
// the paymaster field tail after the version-specific header, i.e. exactly
// the bytes the voucher codec decodes.
type Operation struct {
	Version Version

	Sender   common.Address
	Nonce    *big.Int
	InitCode []byte
	CallData []byte

	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	Paymaster common.Address
	// Packed encoding only; nil for legacy operations.
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int

	VoucherData []byte
}

// UserOperation is the legacy flat-field wire representation.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"` // first 20 bytes = paymaster address
	Signature            []byte         `json:"signature"`
}

// Normalize strips the 20-byte paymaster header and returns the internal view.
func (op *UserOperation) Normalize() (*Operation, error) {
	if len(op.PaymasterAndData) < legacyHeaderLen {
		return nil, ErrNoPaymaster
	}
	return &Operation{
		Version:              VersionLegacy,
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		MaxFeePerGas:         op.MaxFeePerGas,
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas,
		Paymaster:            common.BytesToAddress(op.PaymasterAndData[:legacyHeaderLen]),
		VoucherData:          op.PaymasterAndData[legacyHeaderLen:],
	}, nil
}

// PackedUserOperation is the packed wire representation. AccountGasLimits is
// verificationGasLimit ‖ callGasLimit, GasFees is maxPriorityFeePerGas ‖
// maxFeePerGas, each 16 bytes big-endian.
type PackedUserOperation struct {
	Sender             common.Address `json:"sender"`
	Nonce              *big.Int       `json:"nonce"`
	InitCode           []byte         `json:"initCode"`
	CallData           []byte         `json:"callData"`
	AccountGasLimits   [32]byte       `json:"accountGasLimits"`
	PreVerificationGas *big.Int       `json:"preVerificationGas"`
	GasFees            [32]byte       `json:"gasFees"`
	PaymasterAndData   []byte         `json:"paymasterAndData"`
	Signature          []byte         `json:"signature"`
}

// Normalize unpacks the gas pairs, strips the 52-byte paymaster header
// (address plus the paymaster's own validation and postOp gas limits), and
// returns the internal view.
func (op *PackedUserOperation) Normalize() (*Operation, error) {
	if len(op.PaymasterAndData) < packedHeaderLen {
		return nil, ErrNoPaymaster
	}
	verificationGas, callGas := UnpackPair(op.AccountGasLimits)
	maxPriority, maxFee := UnpackPair(op.GasFees)

	data := op.PaymasterAndData
	return &Operation{
		Version:                       VersionPacked,
		Sender:                        op.Sender,
		Nonce:                         op.Nonce,
		InitCode:                      op.InitCode,
		CallData:                      op.CallData,
		CallGasLimit:                  callGas,
		VerificationGasLimit:          verificationGas,
		PreVerificationGas:            op.PreVerificationGas,
		MaxFeePerGas:                  maxFee,
		MaxPriorityFeePerGas:          maxPriority,
		Paymaster:                     common.BytesToAddress(data[:common.AddressLength]),
		PaymasterVerificationGasLimit: new(big.Int).SetBytes(data[common.AddressLength : common.AddressLength+16]),
		PaymasterPostOpGasLimit:       new(big.Int).SetBytes(data[common.AddressLength+16 : packedHeaderLen]),
		VoucherData:                   data[packedHeaderLen:],
	}, nil
}

// Hash derives the operation's identifying hash the way the entry point
// computes userOpHash: the packed operation fields, then the host address
// and chain ID folded in as the domain.
func (op *Operation) Hash(host common.Address, chainID *big.Int) common.Hash {
	inner := crypto.Keccak256(
		common.LeftPadBytes(op.Sender.Bytes(), 32),
		pad32(op.Nonce),
		crypto.Keccak256(op.InitCode),
		crypto.Keccak256(op.CallData),
		pad32(op.CallGasLimit),
		pad32(op.VerificationGasLimit),
		pad32(op.PreVerificationGas),
		pad32(op.MaxFeePerGas),
		pad32(op.MaxPriorityFeePerGas),
	)
	return crypto.Keccak256Hash(
		inner,
		common.LeftPadBytes(host.Bytes(), 32),
		pad32(chainID),
	)
}

func pad32(v *big.Int) []byte {
	b := make([]byte, 32)
	if v != nil {
		v.FillBytes(b)
	}
	return b
}

var mask128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// PackPair packs two uint128 values into a single 32-byte word, high half
// first. Values wider than 128 bits are truncated to their low 16 bytes.
func PackPair(high, low *big.Int) [32]byte {
	var out [32]byte
	new(big.Int).And(high, mask128).FillBytes(out[:16])
	new(big.Int).And(low, mask128).FillBytes(out[16:])
	return out
}

// UnpackPair splits a 32-byte word into its high and low uint128 halves.
func UnpackPair(word [32]byte) (high, low *big.Int) {
	return new(big.Int).SetBytes(word[:16]), new(big.Int).SetBytes(word[16:])
}
