// Package token provides the transfer-on-behalf primitive the settlement
// engine pulls fees through: an ethclient-backed ERC-20 client for
// deployments and an in-memory ledger for tests.
package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transferer moves amount of the given token from `from` to `to` using the
// token's transferFrom allowance mechanics. A returned error means no funds
// moved.
type Transferer interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}
