package whitelist

import (
	"context"
	"testing"

	"github.com/arlobry/doorcode/internal/store"
)

func TestAddContainsRemove(t *testing.T) {
	l := New(store.NewMemory())
	ctx := context.Background()

	ok, err := l.Contains(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("empty whitelist should contain nothing")
	}

	if err := l.Add(ctx, "+15551234567"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_ = l.Add(ctx, "+15551234567") // idempotent

	ok, _ = l.Contains(ctx, "+15551234567")
	if !ok {
		t.Error("sender should be whitelisted")
	}

	members, _ := l.Members(ctx)
	if len(members) != 1 {
		t.Errorf("got %d members, want 1", len(members))
	}

	if err := l.Remove(ctx, "+15551234567"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	ok, _ = l.Contains(ctx, "+15551234567")
	if ok {
		t.Error("sender should have been removed")
	}
}
