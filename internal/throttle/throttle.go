// Package throttle enforces the reply budget for unknown senders: a
// global daily cap, a per-sender cooldown, and a per-sender daily cap.
// Checks are read-only; Record runs only after a reply is actually
// going out, so a rejected message never consumes budget.
package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/arlobry/doorcode/internal/store"
)

const (
	globalPrefix = "global:"
	senderPrefix = "sender:"

	lastReplyField = "last_reply"

	// stateTTL keeps day-scoped counters across one day boundary and
	// no further. Losing them early just resets budgets to zero.
	stateTTL = 48 * time.Hour
)

// Rejection reasons, also used as metric labels.
const (
	ReasonGlobalCap = "global_cap"
	ReasonCooldown  = "cooldown"
	ReasonSenderCap = "sender_cap"
)

// Config holds the throttle tunables.
type Config struct {
	Cooldown       time.Duration // minimum gap between replies to one sender
	SenderDailyCap int64         // replies per sender per day
	GlobalDailyCap int64         // replies across all unknown senders per day

	// Location fixes the local-day boundary for "today". Day keys are
	// derived in this zone, not UTC. Nil means UTC.
	Location *time.Location
}

// Verdict is the ledger's answer for one message.
type Verdict struct {
	Allowed bool
	Reason  string // set when !Allowed
}

// Ledger reads and records reply budgets in the shared store.
type Ledger struct {
	store store.Store
	cfg   Config
}

// New creates a Ledger.
func New(s store.Store, cfg Config) *Ledger {
	return &Ledger{store: s, cfg: cfg}
}

func (l *Ledger) day(now time.Time) string {
	loc := l.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}

// Allow checks all three gates in order: global cap, cooldown, sender
// cap. Nothing is incremented here.
func (l *Ledger) Allow(ctx context.Context, sender string, now time.Time) (Verdict, error) {
	day := l.day(now)

	atCap, err := l.GlobalAtCap(ctx, now)
	if err != nil {
		return Verdict{}, err
	}
	if atCap {
		return Verdict{Reason: ReasonGlobalCap}, nil
	}

	last, ok, err := l.store.HashGet(ctx, senderPrefix+sender, lastReplyField)
	if err != nil {
		return Verdict{}, err
	}
	if ok {
		lastMillis, err := strconv.ParseInt(last, 10, 64)
		if err != nil {
			return Verdict{}, fmt.Errorf("last reply stamp for %s: %w", sender, err)
		}
		if now.UnixMilli()-lastMillis < l.cfg.Cooldown.Milliseconds() {
			return Verdict{Reason: ReasonCooldown}, nil
		}
	}

	count, err := l.senderCount(ctx, sender, day)
	if err != nil {
		return Verdict{}, err
	}
	if count >= l.cfg.SenderDailyCap {
		return Verdict{Reason: ReasonSenderCap}, nil
	}

	return Verdict{Allowed: true}, nil
}

func (l *Ledger) senderCount(ctx context.Context, sender, day string) (int64, error) {
	val, ok, err := l.store.HashGet(ctx, senderPrefix+sender, "replies:"+day)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sender counter for %s: %w", sender, err)
	}
	return count, nil
}

// Record charges one reply against the global and sender budgets and
// stamps the cooldown clock.
func (l *Ledger) Record(ctx context.Context, sender string, now time.Time) error {
	if err := l.RecordGlobal(ctx, now); err != nil {
		return err
	}

	day := l.day(now)
	key := senderPrefix + sender
	if _, err := l.store.HashIncr(ctx, key, "replies:"+day, 1); err != nil {
		return fmt.Errorf("sender counter: %w", err)
	}
	if err := l.store.HashSet(ctx, key, lastReplyField, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("last reply stamp: %w", err)
	}
	if err := l.store.Expire(ctx, key, stateTTL); err != nil {
		return fmt.Errorf("sender state ttl: %w", err)
	}
	return nil
}

// GlobalAtCap reports whether today's global reply counter has reached
// the cap. Exposed separately so the pipeline can apply the global cap
// to whitelisted senders when configured.
func (l *Ledger) GlobalAtCap(ctx context.Context, now time.Time) (bool, error) {
	val, ok, err := l.store.Get(ctx, globalPrefix+l.day(now))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("global counter: %w", err)
	}
	return count >= l.cfg.GlobalDailyCap, nil
}

// RecordGlobal charges one reply against today's global counter.
func (l *Ledger) RecordGlobal(ctx context.Context, now time.Time) error {
	key := globalPrefix + l.day(now)
	if _, err := l.store.Incr(ctx, key); err != nil {
		return fmt.Errorf("global counter: %w", err)
	}
	if err := l.store.Expire(ctx, key, stateTTL); err != nil {
		return fmt.Errorf("global counter ttl: %w", err)
	}
	return nil
}

// Reset drops all per-sender throttle state. Used by the admin unblock
// path so a reinstated sender starts from a clean slate.
func (l *Ledger) Reset(ctx context.Context, sender string) error {
	if err := l.store.Del(ctx, senderPrefix+sender); err != nil {
		return fmt.Errorf("reset throttle: %w", err)
	}
	return nil
}
