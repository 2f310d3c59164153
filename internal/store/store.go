// Package store defines the key-value counter store the gatekeeper
// keeps all shared state in: TTL'd counters, membership sets, and
// per-sender hashes. Implementations must make every operation a
// single atomic call — the decision core never holds locks across
// requests.
package store

import (
	"context"
	"time"
)

// Store is the capability interface consumed by the decision core.
// A failed operation is a hard failure for the caller; implementations
// must never report a made-up value instead of an error.
type Store interface {
	// Incr atomically increments the integer at key, creating it at 0
	// first if absent, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets or refreshes the TTL on key. Expiring a key that
	// does not exist is a no-op, not an error.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Get returns the string value at key. ok is false when the key
	// is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the given keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Set membership.
	SetAdd(ctx context.Context, set, member string) error
	SetRemove(ctx context.Context, set, member string) error
	SetContains(ctx context.Context, set, member string) (bool, error)
	SetMembers(ctx context.Context, set string) ([]string, error)

	// Hash fields.
	HashGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HashSet(ctx context.Context, key, field, value string) error
	HashIncr(ctx context.Context, key, field string, delta int64) (int64, error)
}
