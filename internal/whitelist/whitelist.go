// Package whitelist holds the pre-approved senders who always receive
// the secret reply. Membership is managed externally (admin API,
// smsctl); the decision core only reads it.
package whitelist

import (
	"context"
	"fmt"

	"github.com/arlobry/doorcode/internal/store"
)

const setKey = "whitelist"

// List is the whitelist set in the shared store.
type List struct {
	store store.Store
}

// New creates a List backed by s.
func New(s store.Store) *List {
	return &List{store: s}
}

// Add puts a canonical sender on the whitelist. Idempotent.
func (l *List) Add(ctx context.Context, sender string) error {
	if err := l.store.SetAdd(ctx, setKey, sender); err != nil {
		return fmt.Errorf("whitelist add: %w", err)
	}
	return nil
}

// Remove takes a sender off the whitelist. No error if absent.
func (l *List) Remove(ctx context.Context, sender string) error {
	if err := l.store.SetRemove(ctx, setKey, sender); err != nil {
		return fmt.Errorf("whitelist remove: %w", err)
	}
	return nil
}

// Contains reports membership.
func (l *List) Contains(ctx context.Context, sender string) (bool, error) {
	ok, err := l.store.SetContains(ctx, setKey, sender)
	if err != nil {
		return false, fmt.Errorf("whitelist check: %w", err)
	}
	return ok, nil
}

// Members returns every whitelisted sender.
func (l *List) Members(ctx context.Context) ([]string, error) {
	members, err := l.store.SetMembers(ctx, setKey)
	if err != nil {
		return nil, fmt.Errorf("whitelist list: %w", err)
	}
	return members, nil
}
