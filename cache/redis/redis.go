// Package redis provides a Redis-backed referral.BalanceCache, so every
// server instance sees the same dashboard snapshots and invalidations.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/commission-engine/referral"
)

const keyPrefix = "commission:balance:"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to addr and pings it. The caller owns Close.
func New(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func key(id referral.AffiliateID) string {
	return keyPrefix + string(id)
}

func (c *Cache) Get(ctx context.Context, userID referral.AffiliateID) (referral.Balance, bool, error) {
	raw, err := c.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return referral.Balance{}, false, nil
	}
	if err != nil {
		return referral.Balance{}, false, fmt.Errorf("redis get: %w", err)
	}

	var b referral.Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		// A corrupt entry is a miss.
		return referral.Balance{}, false, nil
	}
	return b, true, nil
}

func (c *Cache) Set(ctx context.Context, userID referral.AffiliateID, b referral.Balance) error {
	if c.ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, userIDs ...referral.AffiliateID) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ referral.BalanceCache = (*Cache)(nil)
