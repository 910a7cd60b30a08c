// Package journal is the append-only event log of the paymaster: sponsorship
// records and registry changes are serialized as JSON and pushed onto a
// per-paymaster Redis list. Records are facts about what already happened;
// nothing reads them back for control flow.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record kinds.
const (
	KindSponsorship     = "sponsorship_recorded"
	KindSignerAdded     = "signer_added"
	KindSignerRemoved   = "signer_removed"
	KindTreasuryUpdated = "treasury_updated"
)

// Redis key template, %s = paymaster address (checksummed).
const journalKeyFmt = "paymaster:journal:%s"

// Record is one journal entry. Only the fields relevant to Kind are set.
type Record struct {
	Kind   string      `json:"kind"`
	At     int64       `json:"at"` // unix seconds
	OpHash common.Hash `json:"op_hash,omitempty"`

	// sponsorship_recorded
	Sender      common.Address `json:"sender,omitempty"`
	ERC20       bool           `json:"erc20,omitempty"`
	TokenAmount string         `json:"token_amount,omitempty"` // decimal string
	Price       string         `json:"price,omitempty"`

	// signer_added / signer_removed
	Signer common.Address `json:"signer,omitempty"`

	// treasury_updated
	OldTreasury common.Address `json:"old_treasury,omitempty"`
	NewTreasury common.Address `json:"new_treasury,omitempty"`
}

// Journal appends records to Redis and mirrors them to the structured log.
type Journal struct {
	rdb *redis.Client
	key string
	log *zap.Logger
}

func New(rdb *redis.Client, paymaster common.Address, log *zap.Logger) *Journal {
	return &Journal{
		rdb: rdb,
		key: fmt.Sprintf(journalKeyFmt, paymaster.Hex()),
		log: log,
	}
}

// Append serializes the record and pushes it onto the journal list.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	if rec.At == 0 {
		rec.At = time.Now().Unix()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := j.rdb.RPush(ctx, j.key, string(raw)).Err(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	j.log.Info("journal record",
		zap.String("kind", rec.Kind),
		zap.String("op_hash", rec.OpHash.Hex()),
	)
	return nil
}

// Tail returns the most recent n records, oldest first.
func (j *Journal) Tail(ctx context.Context, n int64) ([]Record, error) {
	raw, err := j.rdb.LRange(ctx, j.key, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tail journal: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			j.log.Warn("journal entry is not valid JSON", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the number of records in the journal.
func (j *Journal) Len(ctx context.Context) (int64, error) {
	return j.rdb.LLen(ctx, j.key).Result()
}
