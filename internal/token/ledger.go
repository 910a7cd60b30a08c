package token

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

type holding struct {
	balance    *big.Int
	allowances map[common.Address]*big.Int // spender -> remaining allowance
}

// Ledger is an in-memory multi-token balance/allowance table with ERC-20
// transferFrom semantics. The settlement tests run against it; it also backs
// local development without a chain.
type Ledger struct {
	mu       sync.Mutex
	spender  common.Address
	holdings map[common.Address]map[common.Address]*holding // token -> holder -> holding
}

// NewLedger creates a ledger whose TransferFrom spends as `spender` (the
// paymaster address).
func NewLedger(spender common.Address) *Ledger {
	return &Ledger{
		spender:  spender,
		holdings: make(map[common.Address]map[common.Address]*holding),
	}
}

func (l *Ledger) holding(token, holder common.Address) *holding {
	byHolder, ok := l.holdings[token]
	if !ok {
		byHolder = make(map[common.Address]*holding)
		l.holdings[token] = byHolder
	}
	h, ok := byHolder[holder]
	if !ok {
		h = &holding{balance: new(big.Int), allowances: make(map[common.Address]*big.Int)}
		byHolder[holder] = h
	}
	return h
}

// Mint credits amount of token to holder.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.holding(token, holder)
	h.balance.Add(h.balance, amount)
}

// Approve sets holder's allowance for the ledger's spender.
func (l *Ledger) Approve(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.holding(token, holder)
	h.allowances[l.spender] = new(big.Int).Set(amount)
}

// BalanceOf returns holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.holding(token, holder).balance)
}

// TransferFrom implements Transferer with strict ERC-20 semantics: the
// transfer fails atomically unless both balance and allowance cover amount.
func (l *Ledger) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.holding(token, from)
	allowance := src.allowances[l.spender]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if src.balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	allowance.Sub(allowance, amount)
	src.balance.Sub(src.balance, amount)
	dst := l.holding(token, to)
	dst.balance.Add(dst.balance, amount)
	return nil
}
