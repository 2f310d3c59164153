// Package optout tracks per-sender opt-out state. A STOP-class
// keyword sets a long-TTL flag; START-class (or the gate keyword,
// when rejoin is allowed) clears it. The flag suppresses every reply
// to that sender, whitelisted or not.
package optout

import (
	"context"
	"fmt"
	"time"

	"github.com/arlobry/doorcode/internal/store"
)

const (
	flagPrefix = "optout:"
	indexSet   = "optout:index"

	// DefaultTTL keeps an opt-out on file for a year. Carrier guidance
	// treats re-contact after that as a fresh conversation.
	DefaultTTL = 365 * 24 * time.Hour
)

// Ledger records and clears opt-outs in the shared store.
type Ledger struct {
	store store.Store
	ttl   time.Duration
}

// New creates a Ledger. A zero ttl uses DefaultTTL.
func New(s store.Store, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{store: s, ttl: ttl}
}

// RecordOptOut flags sender as opted out. Idempotent.
func (l *Ledger) RecordOptOut(ctx context.Context, sender string) error {
	if err := l.store.Set(ctx, flagPrefix+sender, "1", l.ttl); err != nil {
		return fmt.Errorf("record opt-out: %w", err)
	}
	if err := l.store.SetAdd(ctx, indexSet, sender); err != nil {
		return fmt.Errorf("index opt-out: %w", err)
	}
	return nil
}

// ClearOptOut removes the sender's opt-out. No error if absent.
func (l *Ledger) ClearOptOut(ctx context.Context, sender string) error {
	if err := l.store.Del(ctx, flagPrefix+sender); err != nil {
		return fmt.Errorf("clear opt-out: %w", err)
	}
	if err := l.store.SetRemove(ctx, indexSet, sender); err != nil {
		return fmt.Errorf("deindex opt-out: %w", err)
	}
	return nil
}

// IsOptedOut reports whether sender currently has an opt-out on file.
func (l *Ledger) IsOptedOut(ctx context.Context, sender string) (bool, error) {
	_, ok, err := l.store.Get(ctx, flagPrefix+sender)
	if err != nil {
		return false, fmt.Errorf("check opt-out: %w", err)
	}
	return ok, nil
}

// List enumerates opted-out senders from the index set. The index can
// outlive an expired flag; List filters those out.
func (l *Ledger) List(ctx context.Context) ([]string, error) {
	members, err := l.store.SetMembers(ctx, indexSet)
	if err != nil {
		return nil, fmt.Errorf("list opt-outs: %w", err)
	}
	active := members[:0]
	for _, sender := range members {
		opted, err := l.IsOptedOut(ctx, sender)
		if err != nil {
			return nil, err
		}
		if opted {
			active = append(active, sender)
		}
	}
	return active, nil
}
