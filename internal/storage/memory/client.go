package memory

import (
	"context"
	"sync"
	"time"

	"github.com/andrewf414/carols/internal/storage"
)

const (
	regRateLimitWindow = 600 * time.Second
	regRateLimitMax    = 10
	maxPushSubsPerUser = 10
)

type Client struct {
	mu    sync.RWMutex
	limit map[string][]time.Time
	// userID -> endpoint -> serialized subscription
	subs map[string]map[string][]byte
}

func New() *Client {
	return &Client{
		limit: make(map[string][]time.Time),
		subs:  make(map[string]map[string][]byte),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) CheckRegisterRateLimit(ctx context.Context, ip string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-regRateLimitWindow)
	var kept []time.Time
	for _, t := range c.limit[ip] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= regRateLimitMax {
		c.limit[ip] = kept
		return false, nil
	}
	kept = append(kept, now)
	c.limit[ip] = kept
	return true, nil
}

func (c *Client) AddPushSubscription(ctx context.Context, userID, endpoint string, sub []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.subs[userID]
	if !ok {
		m = make(map[string][]byte)
		c.subs[userID] = m
	}
	if _, exists := m[endpoint]; !exists && len(m) >= maxPushSubsPerUser {
		return storage.ErrTooManySubscriptions
	}
	m[endpoint] = sub
	return nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs[userID], endpoint)
	return nil
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.subs[userID]
	out := make([][]byte, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out, nil
}
