// Command smsctl manages gatekeeper state directly in Redis.
//
// Usage:
//
//	go run ./cmd/smsctl whitelist add +15551234567
//	go run ./cmd/smsctl whitelist remove +15551234567
//	go run ./cmd/smsctl whitelist list
//	go run ./cmd/smsctl block add +15559990000
//	go run ./cmd/smsctl block remove +15559990000
//	go run ./cmd/smsctl block list
//	go run ./cmd/smsctl optout list
//	go run ./cmd/smsctl optout clear +15551234567
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/arlobry/doorcode/internal/blocklist"
	"github.com/arlobry/doorcode/internal/config"
	"github.com/arlobry/doorcode/internal/guard"
	"github.com/arlobry/doorcode/internal/optout"
	"github.com/arlobry/doorcode/internal/phone"
	"github.com/arlobry/doorcode/internal/store"
	"github.com/arlobry/doorcode/internal/throttle"
	"github.com/arlobry/doorcode/internal/whitelist"
)

func usage() {
	fmt.Println("Usage: smsctl <whitelist|block|optout> <command> [phone]")
	fmt.Println("Commands: whitelist add|remove|list, block add|remove|list, optout list|clear")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		log.Fatal("REDIS_URL environment variable is required")
	}

	st, err := store.NewRedis(redisURL)
	if err != nil {
		log.Fatalf("Failed to open redis: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	area, command := os.Args[1], os.Args[2]
	switch area {
	case "whitelist":
		runWhitelist(ctx, whitelist.New(st), command)
	case "block":
		// Unblocking also clears the sender's reply budget and
		// suspicious-content counters, same as the admin API.
		loc := dayLocation()
		blocks := blocklist.New(st)
		th := throttle.New(st, throttle.Config{Location: loc})
		g := guard.New(st, blocks, guard.Config{Location: loc}, nil)
		runBlock(ctx, blocks, command, th, g)
	case "optout":
		runOptOut(ctx, optout.New(st, 0), command)
	default:
		usage()
	}
}

// dayLocation resolves the reference timezone the counters are keyed
// in, matching the server's TIMEZONE setting.
func dayLocation() *time.Location {
	tz := os.Getenv("TIMEZONE")
	if tz == "" {
		tz = config.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// phoneArg normalizes os.Args[3] or exits.
func phoneArg() string {
	if len(os.Args) < 4 {
		usage()
	}
	sender := phone.Normalize(os.Args[3])
	if sender == "" {
		log.Fatalf("Could not normalize phone number %q", os.Args[3])
	}
	return sender
}

func runWhitelist(ctx context.Context, wl *whitelist.List, command string) {
	switch command {
	case "add":
		sender := phoneArg()
		if err := wl.Add(ctx, sender); err != nil {
			log.Fatalf("Whitelist add failed: %v", err)
		}
		fmt.Printf("Whitelisted %s\n", sender)
	case "remove":
		sender := phoneArg()
		if err := wl.Remove(ctx, sender); err != nil {
			log.Fatalf("Whitelist remove failed: %v", err)
		}
		fmt.Printf("Removed %s from whitelist\n", sender)
	case "list":
		members, err := wl.Members(ctx)
		if err != nil {
			log.Fatalf("Whitelist list failed: %v", err)
		}
		printList(members)
	default:
		usage()
	}
}

func runBlock(ctx context.Context, blocks *blocklist.List, command string, resetters ...blocklist.CounterResetter) {
	switch command {
	case "add":
		sender := phoneArg()
		if err := blocks.Block(ctx, sender); err != nil {
			log.Fatalf("Block failed: %v", err)
		}
		fmt.Printf("Blocked %s\n", sender)
	case "remove":
		sender := phoneArg()
		if err := blocks.Unblock(ctx, sender, resetters...); err != nil {
			log.Fatalf("Unblock failed: %v", err)
		}
		fmt.Printf("Unblocked %s\n", sender)
	case "list":
		members, err := blocks.Members(ctx)
		if err != nil {
			log.Fatalf("Block list failed: %v", err)
		}
		printList(members)
	default:
		usage()
	}
}

func runOptOut(ctx context.Context, opts *optout.Ledger, command string) {
	switch command {
	case "list":
		members, err := opts.List(ctx)
		if err != nil {
			log.Fatalf("Opt-out list failed: %v", err)
		}
		printList(members)
	case "clear":
		sender := phoneArg()
		if err := opts.ClearOptOut(ctx, sender); err != nil {
			log.Fatalf("Opt-out clear failed: %v", err)
		}
		fmt.Printf("Cleared opt-out for %s\n", sender)
	default:
		usage()
	}
}

func printList(members []string) {
	if len(members) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, m := range members {
		fmt.Println(m)
	}
}
