package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
)

type fakeFetcher struct {
	mu       sync.Mutex
	products []domain.Product
	err      error
	calls    atomic.Int32
	block    chan struct{}
}

func (f *fakeFetcher) FetchCatalog(_ context.Context) ([]domain.Product, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products, f.err
}

func (f *fakeFetcher) set(products []domain.Product, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products = products
	f.err = err
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleProducts() []domain.Product {
	return []domain.Product{
		{Title: "Clear Case", Handle: "clear-case", PriceMinor: 2500},
		{Title: "Flaby Case", Handle: "flaby-case", PriceMinor: 3000},
	}
}

func mustNew(t *testing.T, f Fetcher, interval time.Duration) *Cache {
	t.Helper()
	c, err := New(f, interval)
	require.NoError(t, err)
	return c
}

func TestNew_NilFetcher(t *testing.T) {
	_, err := New(nil, time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestGet_EmptyBeforeFirstFetch(t *testing.T) {
	c := mustNew(t, &fakeFetcher{}, time.Minute)
	require.Empty(t, c.Get())
	require.True(t, c.LastRefreshedAt().IsZero())
}

func TestRefreshIfDue_FirstCallFetches(t *testing.T) {
	f := &fakeFetcher{products: sampleProducts()}
	c := mustNew(t, f, time.Minute)

	refreshed, err := c.RefreshIfDue(context.Background(), t0)
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Equal(t, sampleProducts(), c.Get())
	require.Equal(t, t0, c.LastRefreshedAt())
}

func TestRefreshIfDue_NotDueSkipsFetch(t *testing.T) {
	f := &fakeFetcher{products: sampleProducts()}
	c := mustNew(t, f, time.Minute)

	_, err := c.RefreshIfDue(context.Background(), t0)
	require.NoError(t, err)
	refreshed, err := c.RefreshIfDue(context.Background(), t0.Add(59*time.Second))
	require.NoError(t, err)
	require.False(t, refreshed)
	require.EqualValues(t, 1, f.calls.Load())

	refreshed, err = c.RefreshIfDue(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, refreshed)
	require.EqualValues(t, 2, f.calls.Load())
}

func TestRefreshIfDue_FailuresKeepSnapshot(t *testing.T) {
	f := &fakeFetcher{products: sampleProducts()}
	c := mustNew(t, f, time.Minute)
	_, err := c.RefreshIfDue(context.Background(), t0)
	require.NoError(t, err)
	before := c.Get()

	f.set(nil, errors.New("storefront unavailable"))
	for i := 1; i <= 2; i++ {
		refreshed, err := c.RefreshIfDue(context.Background(), t0.Add(time.Duration(i)*time.Hour))
		require.Error(t, err)
		require.Contains(t, err.Error(), "storefront unavailable")
		require.False(t, refreshed)
		require.Equal(t, before, c.Get())
		require.Equal(t, t0, c.LastRefreshedAt())
	}
}

func TestRefreshIfDue_FailureBeforeFirstSuccessStaysEmpty(t *testing.T) {
	c := mustNew(t, &fakeFetcher{err: errors.New("boom")}, time.Minute)
	_, err := c.RefreshIfDue(context.Background(), t0)
	require.Error(t, err)
	require.Empty(t, c.Get())
	require.True(t, c.LastRefreshedAt().IsZero())
}

func TestRefreshIfDue_ConcurrentCallersShareOneFetch(t *testing.T) {
	f := &fakeFetcher{products: sampleProducts(), block: make(chan struct{})}
	c := mustNew(t, f, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.RefreshIfDue(context.Background(), t0)
		}()
	}
	// Readers are not blocked by the in-flight fetch.
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Empty(t, c.Get())

	close(f.block)
	wg.Wait()
	require.EqualValues(t, 1, f.calls.Load())
	require.Len(t, c.Get(), 2)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := &fakeFetcher{products: sampleProducts()}
	c := mustNew(t, f, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func() time.Time { return t0 })
		close(done)
	}()
	require.Eventually(t, func() bool { return len(c.Get()) == 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RefreshesSoonAfterDue(t *testing.T) {
	f := &fakeFetcher{products: sampleProducts()}
	c := mustNew(t, f, 2*time.Second)

	var clock atomic.Int64
	clock.Store(t0.UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, now)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	// A refresh made outside Run moves the due time off the tick schedule.
	clock.Store(t0.Add(2 * time.Second).UnixNano())
	_, err := c.RefreshIfDue(context.Background(), now())
	require.NoError(t, err)
	require.EqualValues(t, 2, f.calls.Load())

	clock.Store(t0.Add(4 * time.Second).UnixNano())
	require.Eventually(t, func() bool { return f.calls.Load() == 3 }, 1500*time.Millisecond, 5*time.Millisecond)
}
