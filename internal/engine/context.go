package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SettleMode is the host's indicator for a settle call.
type SettleMode uint8

const (
	// SettleOpSucceeded: the operation executed and succeeded.
	SettleOpSucceeded SettleMode = iota
	// SettleOpReverted: the operation executed and reverted; gas was still
	// consumed, so ERC20 settlement proceeds.
	SettleOpReverted
	// SettlePostOpReverted: the previous settle call itself failed. This is
	// a notification, not a retry: the engine must not pull tokens again
	// and must not fail.
	SettlePostOpReverted
)

func (m SettleMode) String() string {
	switch m {
	case SettleOpSucceeded:
		return "op_succeeded"
	case SettleOpReverted:
		return "op_reverted"
	case SettlePostOpReverted:
		return "post_op_reverted"
	default:
		return "unknown"
	}
}

// SettlementContext threads authorization results from Validate to Settle.
// It lives for exactly one operation: produced by one Validate call,
// consumed by one normal Settle call, never persisted.
type SettlementContext struct {
	Sender       common.Address
	FeeToken     common.Address // zero in verifying mode
	ExchangeRate *big.Int       // nil in verifying mode
	OpHash       common.Hash

	// Carried only by the legacy encoding (the packed host computes actual
	// gas cost itself and these stay nil).
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	settled bool
}
