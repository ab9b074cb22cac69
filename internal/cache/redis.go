// Package cache provides a Redis-backed cache of solved nonces and
// per-tier solve counters, keyed by a caller-chosen challenge key (the
// HTTP API uses "prefix:target").
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tos-network/fastmine/internal/util"
)

const (
	keyPrefix = "fastmine:"

	keySolved = keyPrefix + "solved:%s"  // challenge key -> SolveRecord JSON
	keyTiers  = keyPrefix + "tiers"      // hash: tier name -> solve count
	keyStats  = keyPrefix + "stats"      // hash: totalSolved, totalAttempts
)

// SolveRecord is what's cached for a single solved challenge.
type SolveRecord struct {
	Nonce    []byte `json:"nonce"`
	Numeric  uint64 `json:"numeric"`
	SolvedAt int64  `json:"solved_at"`
	Tier     string `json:"tier"`
}

// StatsSnapshot summarizes solve activity across all cached challenges.
type StatsSnapshot struct {
	TotalSolved   uint64            `json:"total_solved"`
	TotalAttempts uint64            `json:"total_attempts"`
	ByTier        map[string]uint64 `json:"by_tier"`
}

// Client wraps Redis operations for fastmine's result cache.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis-backed cache client.
func NewRedisClient(url, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	util.Info("Connected to Redis at ", url)
	return &Client{client: client, ctx: ctx}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Lookup returns the cached solve record for key, if any.
func (c *Client) Lookup(key string) (*SolveRecord, bool, error) {
	data, err := c.client.Get(c.ctx, fmt.Sprintf(keySolved, key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var rec SolveRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, false, fmt.Errorf("cache record decode failed: %w", err)
	}
	return &rec, true, nil
}

// Store caches rec under key with the given TTL and increments the
// tier/total counters used by Stats.
func (c *Client) Store(key string, rec *SolveRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache record encode failed: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(c.ctx, fmt.Sprintf(keySolved, key), string(data), ttl)
	pipe.HIncrBy(c.ctx, keyTiers, rec.Tier, 1)
	pipe.HIncrBy(c.ctx, keyStats, "totalSolved", 1)
	_, err = pipe.Exec(c.ctx)
	if err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}
	return nil
}

// IncrAttempt records one more attempt against the global counter,
// regardless of whether it succeeded.
func (c *Client) IncrAttempt() error {
	return c.client.HIncrBy(c.ctx, keyStats, "totalAttempts", 1).Err()
}

// Stats returns a snapshot of solve activity across every tier.
func (c *Client) Stats() (*StatsSnapshot, error) {
	stats, err := c.client.HGetAll(c.ctx, keyStats).Result()
	if err != nil {
		return nil, fmt.Errorf("cache stats failed: %w", err)
	}

	tiers, err := c.client.HGetAll(c.ctx, keyTiers).Result()
	if err != nil {
		return nil, fmt.Errorf("cache tier stats failed: %w", err)
	}

	snap := &StatsSnapshot{ByTier: make(map[string]uint64, len(tiers))}
	if v, ok := stats["totalSolved"]; ok {
		snap.TotalSolved, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := stats["totalAttempts"]; ok {
		snap.TotalAttempts, _ = strconv.ParseUint(v, 10, 64)
	}
	for tier, count := range tiers {
		n, _ := strconv.ParseUint(count, 10, 64)
		snap.ByTier[tier] = n
	}
	return snap, nil
}
