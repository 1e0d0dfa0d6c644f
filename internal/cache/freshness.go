package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// FreshnessCache layers the TTL policy and entry encoding over a Store.
type FreshnessCache struct {
	store   Store
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger
}

// NewFreshnessCache wraps store. Each store call is bounded by timeout when
// it is positive.
func NewFreshnessCache(store Store, clk clock.Clock, timeout time.Duration, logger *slog.Logger) *FreshnessCache {
	if clk == nil {
		clk = clock.New()
	}

	return &FreshnessCache{
		store:   store,
		clock:   clk,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "cache")),
	}
}

// Lookup returns a fresh entry for key. Misses, stale or corrupt entries and
// store errors all report false.
func (c *FreshnessCache) Lookup(ctx context.Context, key string) (Entry, bool) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache lookup failed, treating as miss",
			slog.String("key", key),
			slog.Any("err", err))
		return Entry{}, false
	}

	if !found {
		return Entry{}, false
	}

	entry, err := decodeEntry(data)
	if err != nil {
		c.logger.Warn("Discarding undecodable cache entry",
			slog.String("key", key),
			slog.Any("err", err))
		return Entry{}, false
	}

	now := c.clock.Now()
	if !entry.Fresh(now) {
		c.logger.Debug("Cache entry is stale",
			slog.String("key", key),
			slog.String("address", entry.Address),
			slog.Duration("age", entry.Age(now)))
		return Entry{}, false
	}

	return entry, true
}

// Store records address as the winner for key, stamped with the current
// time. The returned error is informational; callers serve the request
// either way.
func (c *FreshnessCache) Store(ctx context.Context, key, address string, latency time.Duration) (Entry, error) {
	entry := Entry{
		Address:    address,
		LatencyMs:  latency.Milliseconds(),
		ObservedAt: c.clock.Now().UTC(),
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return entry, fmt.Errorf("encode cache entry: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.store.Put(ctx, key, data); err != nil {
		return entry, fmt.Errorf("store cache entry %s: %w", key, err)
	}

	return entry, nil
}

func (c *FreshnessCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
