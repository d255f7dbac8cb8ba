package redis

import (
	"context"
	"time"
)

// IdempotencyStore is the claim/read/release surface shared by the HTTP
// idempotency middleware, the IPN replay guard and event consumers.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// Get returns redis.Nil when the key is absent.
func (c *Client) Get(ctx context.Context, k string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.raw.Get(ctx, k).Result()
}

func (c *Client) Set(ctx context.Context, k string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.raw.Set(ctx, k, value, ttl).Err()
}

func (c *Client) SetNX(ctx context.Context, k string, value any, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.raw.SetNX(ctx, k, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.raw.Del(ctx, keys...).Err()
}
