package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andrewf414/carols/internal/storage"
)

// Registration limit 10 attempts / 10 minutes per IP; push subscriptions
// expire after 30 days of inactivity and are capped per user.
const (
	RegRateLimitWindow  = 600
	RegRateLimitMax     = 10
	PushSubscriptionTTL = 30 * 24 * 3600
	MaxPushSubsPerUser  = 10
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// CheckRegisterRateLimit increments reg_limit:{ip}; the first hit in a
// window arms the expiry.
func (c *Client) CheckRegisterRateLimit(ctx context.Context, ip string) (allowed bool, err error) {
	key := "reg_limit:" + ip
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, RegRateLimitWindow*time.Second)
	}
	return n <= int64(RegRateLimitMax), nil
}

// AddPushSubscription stores sub in the hash push_subs:{userID} under the
// endpoint field. Each add refreshes the whole hash TTL. A new endpoint
// past the per-user cap is rejected; overwriting an existing one is fine.
func (c *Client) AddPushSubscription(ctx context.Context, userID, endpoint string, sub []byte) error {
	key := "push_subs:" + userID
	exists, err := c.cli.HExists(ctx, key, endpoint).Result()
	if err != nil {
		return err
	}
	if !exists {
		n, err := c.cli.HLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if n >= MaxPushSubsPerUser {
			return storage.ErrTooManySubscriptions
		}
	}
	if err := c.cli.HSet(ctx, key, endpoint, sub).Err(); err != nil {
		return err
	}
	return c.cli.Expire(ctx, key, PushSubscriptionTTL*time.Second).Err()
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	return c.cli.HDel(ctx, "push_subs:"+userID, endpoint).Err()
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) ([][]byte, error) {
	vals, err := c.cli.HVals(ctx, "push_subs:"+userID).Result()
	if err != nil {
		return nil, err
	}
	subs := make([][]byte, 0, len(vals))
	for _, v := range vals {
		subs = append(subs, []byte(v))
	}
	return subs, nil
}

// FlushDB clears the current Redis DB (resets rate limits and push
// subscriptions for tests and restarts).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
