// Package pricecache memoises historical price series per symbol and interval.
package pricecache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vadiminshakov/stocker/internal/domain"
)

const defaultFetchTimeout = 30 * time.Second

// Provider returns the candles of one symbol at one interval in any order.
type Provider interface {
	FetchSeries(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error)
}

// RetryPolicy controls how often a failed fetch is retried before the cache gives up.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NoRetry fails on the first provider error.
var NoRetry = RetryPolicy{}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxRetries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

// Config of the cache.
type Config struct {
	// FetchTimeout bounds one provider fetch including its retries.
	FetchTimeout time.Duration
	Retry        RetryPolicy
}

type key struct {
	symbol   string
	interval domain.Interval
}

func (k key) String() string {
	return k.symbol + "/" + k.interval.String()
}

// Cache holds one immutable series per key. Entries are never evicted.
//
// Concurrent misses on the same key share a single provider fetch. The fetch runs detached
// from the callers, so a caller that stops waiting does not cancel it for the others.
type Cache struct {
	provider     Provider
	retry        RetryPolicy
	fetchTimeout time.Duration
	logger       *zap.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[key][]domain.PricePoint
}

// New creates an empty cache in front of the provider.
func New(provider Provider, cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &Cache{
		provider:     provider,
		retry:        cfg.Retry,
		fetchTimeout: timeout,
		logger:       logger,
		entries:      make(map[key][]domain.PricePoint),
	}
}

// Get returns the series of the key, fetching it on a miss.
func (c *Cache) Get(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error) {
	k := key{symbol: domain.NormalizeSymbol(symbol), interval: interval}
	if points, ok := c.lookup(k); ok {
		return points, nil
	}

	return c.wait(ctx, k.String(), func() (any, error) {
		if points, ok := c.lookup(k); ok {
			return points, nil
		}
		return c.fetch(context.WithoutCancel(ctx), k)
	})
}

// Refresh refetches the key. On failure the previous entry, if any, stays cached.
func (c *Cache) Refresh(ctx context.Context, symbol string, interval domain.Interval) ([]domain.PricePoint, error) {
	k := key{symbol: domain.NormalizeSymbol(symbol), interval: interval}

	return c.wait(ctx, "refresh:"+k.String(), func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), k)
	})
}

// Prefetch loads every interval of the symbol in parallel.
// The returned map holds an entry per interval that failed; one failure never stops the others.
func (c *Cache) Prefetch(ctx context.Context, symbol string, intervals ...domain.Interval) map[domain.Interval]error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[domain.Interval]error)
	)

	for _, interval := range intervals {
		g.Go(func() error {
			if _, err := c.Get(ctx, symbol, interval); err != nil {
				mu.Lock()
				failed[interval] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failed
}

// Cached returns the series of the key without fetching.
func (c *Cache) Cached(symbol string, interval domain.Interval) ([]domain.PricePoint, bool) {
	return c.lookup(key{symbol: domain.NormalizeSymbol(symbol), interval: interval})
}

func (c *Cache) lookup(k key) ([]domain.PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	return slices.Clone(points), true
}

func (c *Cache) wait(ctx context.Context, flightKey string, fn func() (any, error)) ([]domain.PricePoint, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-c.group.DoChan(flightKey, fn):
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]domain.PricePoint)), nil
	}
}

func (c *Cache) fetch(ctx context.Context, k key) ([]domain.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var points []domain.PricePoint
	operation := func() error {
		raw, err := c.provider.FetchSeries(ctx, k.symbol, k.interval)
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			return backoff.Permanent(errors.Errorf("no price data for %s", k))
		}
		points = domain.NormalizeSeries(raw)
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("price history fetch failed, retrying",
			zap.String("key", k.String()),
			zap.Duration("next", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, c.retry.backOff(ctx), notify); err != nil {
		c.logger.Error("price history fetch failed",
			zap.String("key", k.String()),
			zap.Error(err))
		return nil, fmt.Errorf("fetch %s: %w: %w", k, domain.ErrProviderUnavailable, err)
	}

	c.mu.Lock()
	c.entries[k] = points
	c.mu.Unlock()

	c.logger.Info("price history cached",
		zap.String("key", k.String()),
		zap.Int("points", len(points)))

	return points, nil
}
