// ABOUTME: Refresh-token denylist keyed by token id, in Redis or in memory
// ABOUTME: Revoke is set-if-absent so a token can be redeemed exactly once

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Denylist records refresh token ids that may no longer be redeemed.
type Denylist interface {
	// Revoke denylists jti for ttl and reports whether it was newly added.
	Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

const redisKeyPrefix = "license-gateway:refresh-denylist:"

// RedisDenylist stores revoked token ids as expiring Redis keys.
type RedisDenylist struct {
	client *redis.Client
}

var _ Denylist = (*RedisDenylist)(nil)

// NewRedisDenylist wraps an existing client.
func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

// OpenRedisDenylist connects to Redis and verifies the connection.
func OpenRedisDenylist(ctx context.Context, addr, password string, db int) (*RedisDenylist, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisDenylist{client: client}, nil
}

// Revoke implements Denylist with SETNX.
func (d *RedisDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		// Already expired; the signature check rejects it anyway.
		return true, nil
	}
	added, err := d.client.SetNX(ctx, redisKeyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("denylisting token: %w", err)
	}
	return added, nil
}

// Ping checks the Redis connection.
func (d *RedisDenylist) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (d *RedisDenylist) Close() error {
	return d.client.Close()
}

// MemoryDenylist is a process-local Denylist for single-instance deployments and tests.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

var _ Denylist = (*MemoryDenylist)(nil)

// NewMemoryDenylist creates an empty in-memory denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke implements Denylist. Expired entries are pruned on write.
func (d *MemoryDenylist) Revoke(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.entries {
		if !exp.After(now) {
			delete(d.entries, k)
		}
	}
	if _, ok := d.entries[jti]; ok {
		return false, nil
	}
	d.entries[jti] = now.Add(ttl)
	return true, nil
}

// Len returns the number of live entries.
func (d *MemoryDenylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
