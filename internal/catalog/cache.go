// Package catalog keeps the last good storefront snapshot and refreshes it on
// a fixed interval. Readers never wait for a refresh, and a failed refresh
// leaves the previous snapshot in place indefinitely.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/observability"
)

const (
	defaultRefreshInterval = 10 * time.Minute
	defaultFetchTimeout    = 15 * time.Second

	runChecksPerInterval = 4
)

// Fetcher is the storefront capability. *shopify.Client satisfies it.
type Fetcher interface {
	FetchCatalog(ctx context.Context) ([]domain.Product, error)
}

type snapshot struct {
	products    []domain.Product
	refreshedAt time.Time
}

// Cache holds the current catalog snapshot.
type Cache struct {
	fetcher      Fetcher
	interval     time.Duration
	fetchTimeout time.Duration

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

type Option func(*Cache)

func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func New(f Fetcher, interval time.Duration, opts ...Option) (*Cache, error) {
	if f == nil {
		return nil, errors.New("catalog: fetcher must not be nil")
	}
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	c := &Cache{
		fetcher:      f,
		interval:     interval,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&snapshot{})
	return c, nil
}

// Get returns the last good snapshot. The slice is shared and must be treated
// as read-only.
func (c *Cache) Get() []domain.Product {
	return c.current.Load().products
}

// LastRefreshedAt is zero until the first successful fetch.
func (c *Cache) LastRefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}

func (c *Cache) due(now time.Time) bool {
	last := c.current.Load().refreshedAt
	return last.IsZero() || now.Sub(last) >= c.interval
}

// RefreshIfDue fetches a new snapshot when the interval has elapsed. Concurrent
// callers share one in-flight fetch. It reports whether a new snapshot was
// installed; fetch failures are logged and returned, the snapshot is untouched.
func (c *Cache) RefreshIfDue(ctx context.Context, now time.Time) (bool, error) {
	if !c.due(now) {
		return false, nil
	}
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		// Another caller may have finished a refresh while we waited to enter.
		if !c.due(now) {
			return false, nil
		}
		// The fetch is shared, so one caller's cancellation must not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		products, err := c.fetcher.FetchCatalog(fetchCtx)
		if err != nil {
			return false, fmt.Errorf("catalog: refresh: %w", err)
		}
		c.current.Store(&snapshot{products: products, refreshedAt: now})
		return true, nil
	})
	log := observability.LoggerFromContext(ctx)
	if err != nil {
		log.Warn("catalog refresh failed, serving previous snapshot",
			"err", err,
			"products", len(c.Get()),
			"last_refreshed_at", c.LastRefreshedAt())
		return false, err
	}
	refreshed, _ := v.(bool)
	if refreshed {
		log.Info("catalog refreshed", "products", len(c.Get()))
	}
	return refreshed, nil
}

// Run refreshes whenever the snapshot is due until ctx is done. The first
// attempt happens immediately. Checks run several times per interval so a
// refresh made elsewhere does not push the next one back a whole period.
func (c *Cache) Run(ctx context.Context, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	tick := c.interval / runChecksPerInterval
	if tick <= 0 {
		tick = c.interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		_, _ = c.RefreshIfDue(ctx, now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
