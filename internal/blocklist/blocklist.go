// Package blocklist holds permanently blocked senders. The abuse
// guard escalates into this list; nothing in the decision core ever
// transitions a sender back out. Unblock is the explicit external
// reset operation and also clears the sender's counters.
package blocklist

import (
	"context"
	"fmt"

	"github.com/arlobry/doorcode/internal/store"
)

const (
	flagPrefix = "block:"
	indexSet   = "block:index"
)

// CounterResetter clears a sender's throttle state when they are
// unblocked, so a reinstated sender starts from zero.
type CounterResetter interface {
	Reset(ctx context.Context, sender string) error
}

// List is the permanent block record in the shared store.
type List struct {
	store store.Store
}

// New creates a List backed by s.
func New(s store.Store) *List {
	return &List{store: s}
}

// Block permanently flags sender. Idempotent. One-way from the
// decision core's point of view.
func (l *List) Block(ctx context.Context, sender string) error {
	if err := l.store.Set(ctx, flagPrefix+sender, "1", 0); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	if err := l.store.SetAdd(ctx, indexSet, sender); err != nil {
		return fmt.Errorf("index block: %w", err)
	}
	return nil
}

// IsBlocked reports whether sender is on the block record.
func (l *List) IsBlocked(ctx context.Context, sender string) (bool, error) {
	_, ok, err := l.store.Get(ctx, flagPrefix+sender)
	if err != nil {
		return false, fmt.Errorf("block check: %w", err)
	}
	return ok, nil
}

// Unblock is the administrative reset: it removes the flag and index
// entry and clears the sender's accumulated counters through each
// provided resetter. Best-effort on the counters — the flag removal
// is the part that matters.
func (l *List) Unblock(ctx context.Context, sender string, resetters ...CounterResetter) error {
	if err := l.store.Del(ctx, flagPrefix+sender); err != nil {
		return fmt.Errorf("unblock: %w", err)
	}
	if err := l.store.SetRemove(ctx, indexSet, sender); err != nil {
		return fmt.Errorf("deindex block: %w", err)
	}
	for _, r := range resetters {
		if err := r.Reset(ctx, sender); err != nil {
			return fmt.Errorf("reset counters: %w", err)
		}
	}
	return nil
}

// Members returns every blocked sender.
func (l *List) Members(ctx context.Context) ([]string, error) {
	members, err := l.store.SetMembers(ctx, indexSet)
	if err != nil {
		return nil, fmt.Errorf("block list: %w", err)
	}
	return members, nil
}
