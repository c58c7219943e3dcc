package storage

import (
	"context"
	"errors"
)

// ErrTooManySubscriptions is returned by AddPushSubscription when the user
// already holds the maximum number of push subscriptions.
var ErrTooManySubscriptions = errors.New("too many push subscriptions")

// Store holds the ephemeral state that does not belong in Postgres:
// the per-IP registration rate limit window and web push subscriptions.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type Store interface {
	// CheckRegisterRateLimit counts a registration attempt from ip and
	// reports whether it is still within the window.
	CheckRegisterRateLimit(ctx context.Context, ip string) (allowed bool, err error)

	// AddPushSubscription stores a serialized push subscription keyed by
	// its endpoint. Re-adding the same endpoint overwrites; a new endpoint
	// past the per-user cap returns ErrTooManySubscriptions.
	AddPushSubscription(ctx context.Context, userID, endpoint string, sub []byte) error

	// RemovePushSubscription drops the subscription for endpoint. Removing
	// an unknown endpoint is not an error.
	RemovePushSubscription(ctx context.Context, userID, endpoint string) error

	// ListPushSubscriptions returns the user's stored subscriptions.
	ListPushSubscriptions(ctx context.Context, userID string) ([][]byte, error)

	Close() error
}
