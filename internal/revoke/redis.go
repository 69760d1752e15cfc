// Package revoke keeps logged-out token ids until they expire.
package revoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "rbac:revoked:"

// RedisDenylist stores revoked token ids as keys that expire together with
// the token.
type RedisDenylist struct {
	client *redis.Client
	now    func() time.Time
}

// Option configures RedisDenylist.
type Option func(*RedisDenylist)

// WithClock overrides the time source used to compute key TTLs.
func WithClock(fn func() time.Time) Option {
	return func(d *RedisDenylist) {
		if fn != nil {
			d.now = fn
		}
	}
}

// Open connects to the Redis server at rawURL and verifies it responds.
func Open(ctx context.Context, rawURL string, opts ...Option) (*RedisDenylist, error) {
	redisOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second
	redisOpts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *RedisDenylist {
	d := &RedisDenylist{client: client, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Revoke denies tokenID until the given instant. Tokens that already expired
// are not stored.
func (d *RedisDenylist) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return errors.New("token id is required")
	}
	ttl := until.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, keyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Revoked reports whether tokenID was revoked and has not yet expired.
func (d *RedisDenylist) Revoked(ctx context.Context, tokenID string) (bool, error) {
	_, err := d.client.Get(ctx, keyPrefix+tokenID).Result()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	return true, nil
}

// Ping checks the connection; used by the readiness probe.
func (d *RedisDenylist) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDenylist) Close() error {
	return d.client.Close()
}
