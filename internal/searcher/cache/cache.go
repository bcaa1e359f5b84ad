// Package cache keeps search results in Redis, keyed by index generation
// and a hash of the request, so a commit makes every older entry
// unreachable at once.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/resilience"
)

const keyPrefix = "search:"

// Status reports how a result was obtained.
type Status string

const (
	Hit      Status = "hit"
	Miss     Status = "miss"
	Bypass   Status = "bypass"
	Disabled Status = "disabled"
)

// Store is the subset of the Redis client the cache uses. A missing key is
// reported with an error for which pkgredis.IsNilError is true.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New wraps store. Redis errors count against a circuit breaker; while it
// is open the cache is bypassed and searches run uncached. mt may be nil.
func New(store Store, ttl time.Duration, breaker resilience.CircuitBreakerConfig, mt *metrics.Metrics) *QueryCache {
	if mt != nil {
		prev := breaker.OnStateChange
		breaker.OnStateChange = func(name string, to resilience.State) {
			mt.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			if prev != nil {
				prev(name, to)
			}
		}
		mt.CircuitBreakerState.WithLabelValues("query-cache").Set(float64(resilience.StateClosed))
	}
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("query-cache", breaker),
		metrics: mt,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key derives the cache key of a request fingerprint at a generation.
func Key(generation uint64, fingerprint []byte) string {
	hash := sha256.Sum256(fingerprint)
	return fmt.Sprintf("%s%d:%x", keyPrefix, generation, hash[:16])
}

// Get looks key up. Redis failures are logged and reported as a miss.
func (c *QueryCache) Get(ctx context.Context, key string) (*search.Result, bool) {
	result, err := c.lookup(ctx, key)
	return result, err == nil && result != nil
}

// lookup returns a nil result on a miss. While the breaker rejects calls
// the error wraps resilience.ErrCircuitOpen.
func (c *QueryCache) lookup(ctx context.Context, key string) (*search.Result, error) {
	var data []byte
	err := c.breaker.Execute(func() error {
		v, err := c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		data = v
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, err
	}
	if data == nil {
		c.miss()
		return nil, nil
	}
	var result search.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, nil
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &result, nil
}

// Set stores result under key with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, key string, result *search.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for fingerprint at generation or
// computes and stores it. Concurrent callers with the same key share one
// computation. The shared computation runs on a context detached from the
// cancellation of whichever caller started it, so computeFn must bound its
// own run time; a caller whose context ends stops waiting with ctx.Err().
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	generation uint64,
	fingerprint []byte,
	computeFn func(ctx context.Context) (*search.Result, error),
) (*search.Result, Status, error) {
	key := Key(generation, fingerprint)
	result, err := c.lookup(ctx, key)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		result, err := computeFn(ctx)
		return result, Bypass, err
	}
	if result != nil {
		return result, Hit, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		result, err := computeFn(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, key, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, Miss, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, Miss, res.Err
		}
		return res.Val.(*search.Result), Miss, nil
	}
}

// Invalidate removes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the circuit breaker guarding Redis.
func (c *QueryCache) BreakerState() resilience.State {
	return c.breaker.GetState()
}

// HandleCommit returns a MessageHandler for the cache-invalidation topic.
// Each commit event flushes the cache; entries of older generations could
// never be hit again and only hold memory until their TTL.
func (c *QueryCache) HandleCommit() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ce, err := kafka.DecodeJSON[indexer.CommitEvent](value)
		if err != nil {
			c.logger.Error("failed to decode commit event", "error", err, "key", string(key))
			return nil
		}
		c.logger.Debug("commit announced", "generation", ce.Generation)
		if err := c.Invalidate(ctx); err != nil {
			c.logger.Warn("cache flush after commit failed", "generation", ce.Generation, "error", err)
		}
		return nil
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
