// Package decision orchestrates the gatekeeper pipeline. Each inbound
// message runs through compliance classification, the opt-out ledger,
// the keyword gate, the whitelist, the abuse guard, and the throttle
// ledger — in that order, first match wins — and ends in exactly one
// of four outcomes.
//
// A SILENT outcome means zero billable outbound messages. Store
// failures propagate as errors; the pipeline never substitutes a
// default decision for an answer it couldn't get.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/arlobry/doorcode/internal/guard"
	"github.com/arlobry/doorcode/internal/keywords"
	"github.com/arlobry/doorcode/internal/metrics"
	"github.com/arlobry/doorcode/internal/optout"
	"github.com/arlobry/doorcode/internal/phone"
	"github.com/arlobry/doorcode/internal/throttle"
	"github.com/arlobry/doorcode/internal/whitelist"
)

// Kind is a terminal pipeline outcome.
type Kind string

const (
	ReplySecret   Kind = "reply_secret"
	ReplyHelp     Kind = "reply_help"
	ReplyFallback Kind = "reply_fallback"
	Silent        Kind = "silent"
)

// Non-guard, non-throttle silence reasons.
const (
	ReasonOptOut         = "opt_out"
	ReasonOptedOut       = "opted_out"
	ReasonMissingSender  = "missing_sender"
	ReasonKeywordMissing = "keyword_missing"
	ReasonGlobalCap      = throttle.ReasonGlobalCap
)

// Outcome is the pipeline's answer for one message.
type Outcome struct {
	Kind   Kind
	Reply  string // set for the three reply kinds
	Reason string // machine-readable cause, for logs and metrics
}

// Options is the configuration surface the pipeline consumes.
type Options struct {
	SecretText   string // the shared secret sent to whitelisted senders
	HelpText     string // reply to HELP-class messages
	FallbackText string // reply to unknown, unthrottled senders

	GateKeyword string // required keyword; empty disables the gate

	// RejoinByKeyword lets an opted-out sender clear their own opt-out
	// by sending the gate keyword. Effective only when GateKeyword is
	// configured; otherwise treated as disabled.
	RejoinByKeyword bool

	// GlobalCapAppliesToWhitelist extends the global daily reply cap
	// to whitelisted senders.
	GlobalCapAppliesToWhitelist bool
}

// Pipeline wires the decision stages together.
type Pipeline struct {
	opts      Options
	optouts   *optout.Ledger
	whitelist *whitelist.List
	guard     *guard.Guard
	throttle  *throttle.Ledger
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(
	opts Options,
	optouts *optout.Ledger,
	wl *whitelist.List,
	g *guard.Guard,
	t *throttle.Ledger,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts:      opts,
		optouts:   optouts,
		whitelist: wl,
		guard:     g,
		throttle:  t,
		logger:    logger,
	}
}

// Decide classifies one inbound message and mutates counters
// accordingly. rawSender is normalized before any lookup; all state
// keys on the canonical form.
func (p *Pipeline) Decide(ctx context.Context, rawSender, body string, now time.Time) (Outcome, error) {
	sender := phone.Normalize(rawSender)
	if sender == "" {
		// No identity to check or charge; fabricating one would be worse.
		return p.silent(ReasonMissingSender), nil
	}

	switch keywords.Classify(body) {
	case keywords.OptOut:
		if err := p.optouts.RecordOptOut(ctx, sender); err != nil {
			return Outcome{}, err
		}
		metrics.OptOutsTotal.Inc()
		p.logger.Info("opt-out recorded", "sender", sender)
		return p.silent(ReasonOptOut), nil

	case keywords.Help:
		return p.outcome(Outcome{Kind: ReplyHelp, Reply: p.opts.HelpText, Reason: "help"}), nil

	case keywords.OptIn:
		// Clear before the keyword gate so "START <keyword>" opts the
		// sender back in and passes the gate in one round trip.
		if err := p.optouts.ClearOptOut(ctx, sender); err != nil {
			return Outcome{}, err
		}
	}

	opted, err := p.optouts.IsOptedOut(ctx, sender)
	if err != nil {
		return Outcome{}, err
	}
	if opted {
		if p.rejoinAllowed() && keywords.Contains(body, p.opts.GateKeyword) {
			if err := p.optouts.ClearOptOut(ctx, sender); err != nil {
				return Outcome{}, err
			}
		} else {
			// Silence outranks any gate-failure behavior for a sender
			// who asked not to be contacted.
			return p.silent(ReasonOptedOut), nil
		}
	}

	if p.opts.GateKeyword != "" && !keywords.Contains(body, p.opts.GateKeyword) {
		return p.silent(ReasonKeywordMissing), nil
	}

	listed, err := p.whitelist.Contains(ctx, sender)
	if err != nil {
		return Outcome{}, err
	}
	if listed {
		if p.opts.GlobalCapAppliesToWhitelist {
			atCap, err := p.throttle.GlobalAtCap(ctx, now)
			if err != nil {
				return Outcome{}, err
			}
			if atCap {
				return p.silent(ReasonGlobalCap), nil
			}
			if err := p.throttle.RecordGlobal(ctx, now); err != nil {
				return Outcome{}, err
			}
		}
		return p.outcome(Outcome{Kind: ReplySecret, Reply: p.opts.SecretText, Reason: "whitelisted"}), nil
	}

	verdict, err := p.guard.Check(ctx, sender, body, now)
	if err != nil {
		return Outcome{}, err
	}
	if !verdict.Allowed {
		return p.silent(verdict.Reason), nil
	}

	tv, err := p.throttle.Allow(ctx, sender, now)
	if err != nil {
		return Outcome{}, err
	}
	if !tv.Allowed {
		return p.silent(tv.Reason), nil
	}
	if err := p.throttle.Record(ctx, sender, now); err != nil {
		return Outcome{}, err
	}
	return p.outcome(Outcome{Kind: ReplyFallback, Reply: p.opts.FallbackText, Reason: "fallback"}), nil
}

func (p *Pipeline) rejoinAllowed() bool {
	// Rejoin without a configured keyword is a config inconsistency;
	// the safe reading is "disabled".
	return p.opts.RejoinByKeyword && p.opts.GateKeyword != ""
}

func (p *Pipeline) silent(reason string) Outcome {
	return p.outcome(Outcome{Kind: Silent, Reason: reason})
}

func (p *Pipeline) outcome(o Outcome) Outcome {
	metrics.DecisionsTotal.WithLabelValues(string(o.Kind), o.Reason).Inc()
	return o
}
