package decision

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/arlobry/doorcode/internal/blocklist"
	"github.com/arlobry/doorcode/internal/guard"
	"github.com/arlobry/doorcode/internal/optout"
	"github.com/arlobry/doorcode/internal/phone"
	"github.com/arlobry/doorcode/internal/store"
	"github.com/arlobry/doorcode/internal/throttle"
	"github.com/arlobry/doorcode/internal/whitelist"
)

type fixture struct {
	pipeline *Pipeline
	store    *store.MemoryStore
	optouts  *optout.Ledger
	wl       *whitelist.List
	blocks   *blocklist.List
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	mem := store.NewMemory()
	validator, err := phone.NewValidator("")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	blocks := blocklist.New(mem)
	optouts := optout.New(mem, 0)
	wl := whitelist.New(mem)
	g := guard.New(mem, blocks, guard.Config{
		Validator:        validator,
		BurstWindow:      time.Minute,
		BurstLimit:       5,
		FloodWindow:      5 * time.Minute,
		FloodThreshold:   1000, // out of the way unless a test wants it
		DefenseDuration:  time.Hour,
		MaxBodyLength:    160,
		URLPattern:       regexp.MustCompile(`https?://`),
		SuspectThreshold: 5,
	}, nil)
	th := throttle.New(mem, throttle.Config{
		Cooldown:       3 * time.Minute,
		SenderDailyCap: 3,
		GlobalDailyCap: 2000,
		Location:       time.UTC,
	})

	if opts.SecretText == "" {
		opts.SecretText = "gate code is 4711"
	}
	if opts.HelpText == "" {
		opts.HelpText = "text the magic word for the gate code"
	}
	if opts.FallbackText == "" {
		opts.FallbackText = "sorry, you are not on the list"
	}

	return &fixture{
		pipeline: New(opts, optouts, wl, g, th, nil),
		store:    mem,
		optouts:  optouts,
		wl:       wl,
		blocks:   blocks,
	}
}

func decideAt(t *testing.T, f *fixture, sender, body string, now time.Time) Outcome {
	t.Helper()
	out, err := f.pipeline.Decide(context.Background(), sender, body, now)
	if err != nil {
		t.Fatalf("Decide(%q, %q): %v", sender, body, err)
	}
	return out
}

func TestWhitelistedSenderGetsSecret(t *testing.T) {
	f := newFixture(t, Options{GateKeyword: "password"})
	ctx := context.Background()
	_ = f.wl.Add(ctx, "+15551234567")

	out := decideAt(t, f, "+15551234567", "password", time.Now())
	if out.Kind != ReplySecret {
		t.Fatalf("Kind = %v, want ReplySecret", out.Kind)
	}
	if out.Reply != "gate code is 4711" {
		t.Errorf("Reply = %q, want the secret text", out.Reply)
	}

	// Whitelisted path touches no counters.
	if _, ok, _ := f.store.Get(ctx, "flood:unknown"); ok {
		t.Error("flood counter should be untouched for whitelisted senders")
	}
	if _, ok, _ := f.store.HashGet(ctx, "sender:+15551234567", "last_reply"); ok {
		t.Error("throttle state should be untouched for whitelisted senders")
	}
}

func TestWhitelistBypassesBurstLimits(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_ = f.wl.Add(ctx, "+15551234567")
	now := time.Now()

	// Far more traffic than any unknown sender could get away with.
	for i := 0; i < 20; i++ {
		out := decideAt(t, f, "+15551234567", "hello", now)
		if out.Kind != ReplySecret {
			t.Fatalf("message %d: Kind = %v, want ReplySecret", i+1, out.Kind)
		}
	}
}

func TestInvalidFormatIsSilentWithoutEscalation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	out := decideAt(t, f, "+19005551234", "hello", time.Now())
	if out.Kind != Silent || out.Reason != guard.ReasonInvalidOrigin {
		t.Fatalf("outcome = %+v, want silent/invalid_origin", out)
	}
	blocked, _ := f.blocks.IsBlocked(ctx, "+19005551234")
	if blocked {
		t.Error("format rejection must not add to the block list")
	}
}

func TestUnknownSenderFallbackAndCooldown(t *testing.T) {
	f := newFixture(t, Options{})
	now := time.Now()

	first := decideAt(t, f, "+15559990000", "hello", now)
	if first.Kind != ReplyFallback {
		t.Fatalf("first outcome = %+v, want ReplyFallback", first)
	}
	if first.Reply != "sorry, you are not on the list" {
		t.Errorf("Reply = %q, want the fallback text", first.Reply)
	}

	// Second message inside the cooldown: exactly one reply total.
	second := decideAt(t, f, "+15559990000", "hello again", now.Add(time.Minute))
	if second.Kind != Silent || second.Reason != throttle.ReasonCooldown {
		t.Errorf("second outcome = %+v, want silent/cooldown", second)
	}
}

func TestBurstEscalatesToPermanentBlock(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	now := time.Now()
	sender := "+15559990000"

	// Six messages in one burst window: the 6th triggers the block.
	var last Outcome
	for i := 0; i < 6; i++ {
		last = decideAt(t, f, sender, "hello", now)
	}
	if last.Kind != Silent || last.Reason != guard.ReasonBurstLimit {
		t.Fatalf("6th outcome = %+v, want silent/burst_limit", last)
	}
	blocked, _ := f.blocks.IsBlocked(ctx, sender)
	if !blocked {
		t.Fatal("sender should be permanently blocked")
	}

	// A 7th message a day later dies at the blocklist check.
	out := decideAt(t, f, sender, "hello", now.Add(24*time.Hour))
	if out.Kind != Silent || out.Reason != guard.ReasonBlocked {
		t.Errorf("outcome = %+v, want silent/blocked", out)
	}
}

func TestStopIsSilentAndIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		out := decideAt(t, f, "+15559990000", "STOP", now)
		if out.Kind != Silent || out.Reason != ReasonOptOut {
			t.Fatalf("STOP #%d outcome = %+v, want silent/opt_out", i+1, out)
		}
	}
	opted, _ := f.optouts.IsOptedOut(ctx, "+15559990000")
	if !opted {
		t.Error("sender should be opted out")
	}
}

func TestOptOutOutranksWhitelist(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_ = f.wl.Add(ctx, "+15551234567")

	decideAt(t, f, "+15551234567", "STOP", time.Now())

	out := decideAt(t, f, "+15551234567", "hello", time.Now())
	if out.Kind != Silent || out.Reason != ReasonOptedOut {
		t.Errorf("outcome = %+v, want silent/opted_out despite whitelist", out)
	}
}

func TestStartPlusKeywordInOneMessage(t *testing.T) {
	f := newFixture(t, Options{GateKeyword: "password"})
	ctx := context.Background()
	_ = f.wl.Add(ctx, "+15551234567")
	now := time.Now()

	decideAt(t, f, "+15551234567", "STOP", now)

	// One message opts back in and passes the gate in the same call.
	out := decideAt(t, f, "+15551234567", "START password", now.Add(time.Minute))
	if out.Kind != ReplySecret {
		t.Fatalf("outcome = %+v, want ReplySecret", out)
	}
	opted, _ := f.optouts.IsOptedOut(ctx, "+15551234567")
	if opted {
		t.Error("opt-out should be cleared")
	}
}

func TestRejoinByGateKeyword(t *testing.T) {
	f := newFixture(t, Options{GateKeyword: "password", RejoinByKeyword: true})
	ctx := context.Background()
	_ = f.wl.Add(ctx, "+15551234567")
	now := time.Now()

	decideAt(t, f, "+15551234567", "STOP", now)

	// The gate keyword alone clears the opt-out when rejoin is on.
	out := decideAt(t, f, "+15551234567", "password", now.Add(time.Minute))
	if out.Kind != ReplySecret {
		t.Fatalf("outcome = %+v, want ReplySecret via rejoin", out)
	}
	opted, _ := f.optouts.IsOptedOut(ctx, "+15551234567")
	if opted {
		t.Error("opt-out should be cleared by rejoin")
	}
}

func TestRejoinDisabledStaysSilent(t *testing.T) {
	f := newFixture(t, Options{GateKeyword: "password", RejoinByKeyword: false})
	now := time.Now()

	decideAt(t, f, "+15551234567", "STOP", now)

	out := decideAt(t, f, "+15551234567", "password", now.Add(time.Minute))
	if out.Kind != Silent || out.Reason != ReasonOptedOut {
		t.Errorf("outcome = %+v, want silent/opted_out", out)
	}
}

func TestRejoinWithoutKeywordConfiguredIsDisabled(t *testing.T) {
	// Inconsistent config: rejoin enabled but no keyword. Safe default
	// is disabled, not a crash or an accidental clear.
	f := newFixture(t, Options{RejoinByKeyword: true})
	now := time.Now()

	decideAt(t, f, "+15559990000", "STOP", now)

	out := decideAt(t, f, "+15559990000", "hello", now.Add(time.Minute))
	if out.Kind != Silent || out.Reason != ReasonOptedOut {
		t.Errorf("outcome = %+v, want silent/opted_out", out)
	}
}

func TestHelpReply(t *testing.T) {
	f := newFixture(t, Options{})
	out := decideAt(t, f, "+15559990000", "HELP", time.Now())
	if out.Kind != ReplyHelp {
		t.Fatalf("outcome = %+v, want ReplyHelp", out)
	}
	if out.Reply != "text the magic word for the gate code" {
		t.Errorf("Reply = %q, want the help text", out.Reply)
	}
}

func TestKeywordGateBlocksUnknowns(t *testing.T) {
	f := newFixture(t, Options{GateKeyword: "password"})

	out := decideAt(t, f, "+15559990000", "let me in", time.Now())
	if out.Kind != Silent || out.Reason != ReasonKeywordMissing {
		t.Errorf("outcome = %+v, want silent/keyword_missing", out)
	}

	out = decideAt(t, f, "+15559990000", "the PASSWORD please", time.Now())
	if out.Kind != ReplyFallback {
		t.Errorf("outcome = %+v, want ReplyFallback", out)
	}
}

func TestMissingSenderIsSilent(t *testing.T) {
	f := newFixture(t, Options{})
	out := decideAt(t, f, "", "hello", time.Now())
	if out.Kind != Silent || out.Reason != ReasonMissingSender {
		t.Errorf("outcome = %+v, want silent/missing_sender", out)
	}
}

func TestGlobalCapAppliesToWhitelistWhenConfigured(t *testing.T) {
	f := newFixture(t, Options{GlobalCapAppliesToWhitelist: true})
	ctx := context.Background()
	_ = f.wl.Add(ctx, "+15551234567")
	now := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)

	// Cap is 2000 in the fixture; drive the counter straight to it.
	day := now.Format("2006-01-02")
	for i := 0; i < 2000; i++ {
		if _, err := f.store.Incr(ctx, "global:"+day); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}

	out := decideAt(t, f, "+15551234567", "hello", now)
	if out.Kind != Silent || out.Reason != ReasonGlobalCap {
		t.Errorf("outcome = %+v, want silent/global_cap", out)
	}
}

func TestGlobalCapIgnoresWhitelistByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_ = f.wl.Add(ctx, "+15551234567")
	now := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)

	day := now.Format("2006-01-02")
	for i := 0; i < 2000; i++ {
		if _, err := f.store.Incr(ctx, "global:"+day); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}

	out := decideAt(t, f, "+15551234567", "hello", now)
	if out.Kind != ReplySecret {
		t.Errorf("outcome = %+v, want ReplySecret regardless of the cap", out)
	}
}

func TestNonCanonicalInputIsNormalized(t *testing.T) {
	f := newFixture(t, Options{})
	_ = f.wl.Add(context.Background(), "+15551234567")

	out := decideAt(t, f, "(555) 123-4567", "hello", time.Now())
	if out.Kind != ReplySecret {
		t.Errorf("outcome = %+v, want ReplySecret for a normalized match", out)
	}
}
