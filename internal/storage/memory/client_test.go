package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/andrewf414/carols/internal/storage"
)

func TestRegisterRateLimit(t *testing.T) {
	c := New()
	ctx := context.Background()
	for i := 0; i < regRateLimitMax; i++ {
		ok, err := c.CheckRegisterRateLimit(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	ok, err := c.CheckRegisterRateLimit(ctx, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("attempt over the limit should be denied")
	}
	// A different IP gets its own window.
	ok, err = c.CheckRegisterRateLimit(ctx, "10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("other IP should not be affected")
	}
}

func TestPushSubscriptionsRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.AddPushSubscription(ctx, "u1", "ep1", []byte(`{"endpoint":"ep1"}`)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddPushSubscription(ctx, "u1", "ep2", []byte(`{"endpoint":"ep2"}`)); err != nil {
		t.Fatal(err)
	}
	subs, err := c.ListPushSubscriptions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}

	// Re-adding the same endpoint overwrites instead of duplicating.
	if err := c.AddPushSubscription(ctx, "u1", "ep1", []byte(`{"endpoint":"ep1","v":2}`)); err != nil {
		t.Fatal(err)
	}
	subs, _ = c.ListPushSubscriptions(ctx, "u1")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions after overwrite, got %d", len(subs))
	}

	if err := c.RemovePushSubscription(ctx, "u1", "ep1"); err != nil {
		t.Fatal(err)
	}
	subs, _ = c.ListPushSubscriptions(ctx, "u1")
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription after remove, got %d", len(subs))
	}

	// Removing an unknown endpoint or listing an unknown user is fine.
	if err := c.RemovePushSubscription(ctx, "u2", "nope"); err != nil {
		t.Fatal(err)
	}
	subs, err = c.ListPushSubscriptions(ctx, "u2")
	if err != nil || len(subs) != 0 {
		t.Fatalf("expected empty list, got %v (%v)", subs, err)
	}
}

func TestPushSubscriptionCap(t *testing.T) {
	c := New()
	ctx := context.Background()
	for i := 0; i < maxPushSubsPerUser; i++ {
		ep := string(rune('a' + i))
		if err := c.AddPushSubscription(ctx, "u1", ep, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	// A new endpoint past the cap is rejected, not swallowed.
	if err := c.AddPushSubscription(ctx, "u1", "overflow", []byte("{}")); !errors.Is(err, storage.ErrTooManySubscriptions) {
		t.Fatalf("expected ErrTooManySubscriptions, got %v", err)
	}
	subs, _ := c.ListPushSubscriptions(ctx, "u1")
	if len(subs) != maxPushSubsPerUser {
		t.Fatalf("expected cap at %d, got %d", maxPushSubsPerUser, len(subs))
	}

	// Overwriting an existing endpoint at the cap still works.
	if err := c.AddPushSubscription(ctx, "u1", "a", []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
}
