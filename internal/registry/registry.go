// Package registry holds the paymaster's long-lived mutable state: the set
// of addresses authorized to sign vouchers and the treasury that receives
// collected fees. Mutation is owner-gated and serialized by a single lock.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/defi-bear/paymaster/internal/journal"
)

// ErrNotOwner rejects registry mutations from anyone but the owner.
var ErrNotOwner = errors.New("registry: caller is not the owner")

// Registry is initialized with the deploying owner as sole signer and
// treasury, matching the singleton contract's constructor behavior.
type Registry struct {
	mu       sync.RWMutex
	owner    common.Address
	signers  map[common.Address]struct{}
	treasury common.Address

	journal *journal.Journal
	log     *zap.Logger
}

func New(owner common.Address, jrnl *journal.Journal, log *zap.Logger) *Registry {
	return &Registry{
		owner:    owner,
		signers:  map[common.Address]struct{}{owner: {}},
		treasury: owner,
		journal:  jrnl,
		log:      log,
	}
}

// Owner returns the fixed owner address.
func (r *Registry) Owner() common.Address { return r.owner }

// IsSigner reports whether addr is authorized to sign vouchers.
func (r *Registry) IsSigner(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.signers[addr]
	return ok
}

// Treasury returns the current fee-collection address.
func (r *Registry) Treasury() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.treasury
}

// AddSigner authorizes addr. Idempotent; owner only.
func (r *Registry) AddSigner(ctx context.Context, caller, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.mu.Lock()
	_, existed := r.signers[addr]
	r.signers[addr] = struct{}{}
	r.mu.Unlock()

	if !existed {
		r.record(ctx, journal.Record{Kind: journal.KindSignerAdded, Signer: addr})
	}
	return nil
}

// RemoveSigner deauthorizes addr. Idempotent; owner only. Removing the last
// signer is allowed; from then on every voucher fails authorization.
func (r *Registry) RemoveSigner(ctx context.Context, caller, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.mu.Lock()
	_, existed := r.signers[addr]
	delete(r.signers, addr)
	r.mu.Unlock()

	if existed {
		r.record(ctx, journal.Record{Kind: journal.KindSignerRemoved, Signer: addr})
	}
	return nil
}

// SetTreasury replaces the fee-collection address. Owner only.
func (r *Registry) SetTreasury(ctx context.Context, caller, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.mu.Lock()
	old := r.treasury
	r.treasury = addr
	r.mu.Unlock()

	r.record(ctx, journal.Record{
		Kind:        journal.KindTreasuryUpdated,
		OldTreasury: old,
		NewTreasury: addr,
	})
	return nil
}

func (r *Registry) record(ctx context.Context, rec journal.Record) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Append(ctx, rec); err != nil {
		r.log.Error("registry: journal append", zap.String("kind", rec.Kind), zap.Error(err))
	}
}
