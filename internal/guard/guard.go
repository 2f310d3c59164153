// Package guard filters messages from unknown senders through a
// multi-stage abuse pipeline: origin validation, permanent blocklist,
// per-sender burst detection, global flood detection, and content
// sanity. Whitelisted senders never reach this package.
//
// Stage order is deliberate: the cheap structural checks run before
// anything that writes a counter, and escalation to a permanent block
// is one-way — only the admin unblock path reverses it.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/arlobry/doorcode/internal/blocklist"
	"github.com/arlobry/doorcode/internal/metrics"
	"github.com/arlobry/doorcode/internal/phone"
	"github.com/arlobry/doorcode/internal/store"
)

const (
	floodKey   = "flood:unknown"
	defenseKey = "defense:mode"

	burstPrefix   = "burst:"
	suspectPrefix = "suspect:"

	// suspectTTL keeps the per-day suspicious-content counter around
	// long enough to span the day boundary.
	suspectTTL = 48 * time.Hour
)

// Rejection reasons, also used as metric labels.
const (
	ReasonInvalidOrigin = "invalid_origin"
	ReasonBlocked       = "blocked"
	ReasonBurstLimit    = "burst_limit"
	ReasonDefensiveMode = "defensive_mode"
	ReasonSuspicious    = "suspicious_content"
)

// Config holds the guard tunables.
type Config struct {
	Validator *phone.Validator

	BurstWindow time.Duration // fixed bucket width, e.g. 60s
	BurstLimit  int64         // messages per bucket before permanent block

	FloodWindow     time.Duration // rolling window for the global unknown counter
	FloodThreshold  int64         // unknown messages per window before defensive mode
	DefenseDuration time.Duration // how long defensive mode stays up

	MaxBodyLength    int            // content sanity: max accepted body length in runes
	URLPattern       *regexp.Regexp // content sanity: bodies matching this are suspicious
	SuspectThreshold int64          // suspicious messages per day before permanent block

	// Throttle clears the sender's reply-budget state when a burst
	// block tears the sender down. Optional.
	Throttle blocklist.CounterResetter

	// Location fixes the day boundary for the suspicious counter.
	// Nil means UTC.
	Location *time.Location
}

// Verdict is the guard's answer for one message.
type Verdict struct {
	Allowed bool
	Reason  string // set when !Allowed
}

func allow() Verdict { return Verdict{Allowed: true} }

func reject(reason string) Verdict { return Verdict{Reason: reason} }

// Guard runs the staged abuse checks against the shared store.
type Guard struct {
	store  store.Store
	blocks *blocklist.List
	cfg    Config
	logger *slog.Logger
}

// New creates a Guard.
func New(s store.Store, blocks *blocklist.List, cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: s, blocks: blocks, cfg: cfg, logger: logger}
}

// Check runs every stage in order and returns the first rejection, or
// allow when all pass. Acceptance mutates only the burst and flood
// counters; reply accounting belongs to the throttle ledger.
func (g *Guard) Check(ctx context.Context, sender, body string, now time.Time) (Verdict, error) {
	// Stage 1: origin validation. No state touched on rejection.
	if !g.cfg.Validator.Valid(sender) {
		return reject(ReasonInvalidOrigin), nil
	}

	// Stage 2: permanent block check.
	blocked, err := g.blocks.IsBlocked(ctx, sender)
	if err != nil {
		return Verdict{}, err
	}
	if blocked {
		return reject(ReasonBlocked), nil
	}

	// Stage 3: per-sender burst counter.
	v, err := g.checkBurst(ctx, sender, now)
	if err != nil || !v.Allowed {
		return v, err
	}

	// Stage 4: global flood counter + defensive mode.
	v, err = g.checkFlood(ctx, now)
	if err != nil || !v.Allowed {
		return v, err
	}

	// Stage 5: content sanity.
	return g.checkContent(ctx, sender, body, now)
}

func (g *Guard) checkBurst(ctx context.Context, sender string, now time.Time) (Verdict, error) {
	bucket := now.Unix() / int64(g.cfg.BurstWindow.Seconds())
	key := fmt.Sprintf("%s%s:%d", burstPrefix, sender, bucket)

	n, err := g.store.Incr(ctx, key)
	if err != nil {
		return Verdict{}, err
	}
	if n == 1 {
		// Slack past the bucket width so a bucket read near its end
		// still sees the count.
		if err := g.store.Expire(ctx, key, g.cfg.BurstWindow+30*time.Second); err != nil {
			return Verdict{}, err
		}
	}

	if n > g.cfg.BurstLimit {
		g.logger.Warn("burst limit exceeded, blocking sender",
			"sender", sender,
			"count", n,
			"limit", g.cfg.BurstLimit,
		)
		if err := g.escalate(ctx, sender, "burst"); err != nil {
			return Verdict{}, err
		}
		// Best-effort cleanup of the counters that got them here.
		if err := g.store.Del(ctx, key); err != nil {
			g.logger.Warn("cleanup after block failed", "sender", sender, "error", err)
		}
		if g.cfg.Throttle != nil {
			if err := g.cfg.Throttle.Reset(ctx, sender); err != nil {
				g.logger.Warn("throttle reset after block failed", "sender", sender, "error", err)
			}
		}
		return reject(ReasonBurstLimit), nil
	}
	return allow(), nil
}

func (g *Guard) checkFlood(ctx context.Context, now time.Time) (Verdict, error) {
	n, err := g.store.Incr(ctx, floodKey)
	if err != nil {
		return Verdict{}, err
	}
	if n == 1 {
		if err := g.store.Expire(ctx, floodKey, g.cfg.FloodWindow); err != nil {
			return Verdict{}, err
		}
	}

	if n > g.cfg.FloodThreshold {
		if err := g.store.Set(ctx, defenseKey, "1", g.cfg.DefenseDuration); err != nil {
			return Verdict{}, err
		}
		metrics.DefensiveModeActivations.Inc()
		g.logger.Warn("unknown-sender flood detected, defensive mode on",
			"count", n,
			"threshold", g.cfg.FloodThreshold,
			"duration", g.cfg.DefenseDuration,
		)
	}

	// Reject while the flag is up, whether or not this message set it.
	_, active, err := g.store.Get(ctx, defenseKey)
	if err != nil {
		return Verdict{}, err
	}
	if active {
		return reject(ReasonDefensiveMode), nil
	}
	return allow(), nil
}

func (g *Guard) checkContent(ctx context.Context, sender, body string, now time.Time) (Verdict, error) {
	suspicious := utf8.RuneCountInString(body) > g.cfg.MaxBodyLength ||
		(g.cfg.URLPattern != nil && g.cfg.URLPattern.MatchString(body))
	if !suspicious {
		return allow(), nil
	}

	loc := g.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	day := now.In(loc).Format("2006-01-02")
	key := suspectPrefix + sender + ":" + day

	n, err := g.store.Incr(ctx, key)
	if err != nil {
		return Verdict{}, err
	}
	if n == 1 {
		if err := g.store.Expire(ctx, key, suspectTTL); err != nil {
			return Verdict{}, err
		}
	}

	if n >= g.cfg.SuspectThreshold {
		g.logger.Warn("suspicious content threshold reached, blocking sender",
			"sender", sender,
			"count", n,
		)
		if err := g.escalate(ctx, sender, "content"); err != nil {
			return Verdict{}, err
		}
	}
	return reject(ReasonSuspicious), nil
}

// Reset clears the sender's suspicious-content counters. Day-keyed
// counters only live across one boundary, so today and yesterday
// cover everything. Satisfies blocklist.CounterResetter for the
// admin unblock path.
func (g *Guard) Reset(ctx context.Context, sender string) error {
	loc := g.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	return g.store.Del(ctx,
		suspectPrefix+sender+":"+now.Format("2006-01-02"),
		suspectPrefix+sender+":"+now.AddDate(0, 0, -1).Format("2006-01-02"),
	)
}

func (g *Guard) escalate(ctx context.Context, sender, stage string) error {
	if err := g.blocks.Block(ctx, sender); err != nil {
		return err
	}
	metrics.PermanentBlocksTotal.WithLabelValues(stage).Inc()
	return nil
}
