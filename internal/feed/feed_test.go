package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantafe/tokensentry/internal/domain"
)

func TestRESTFeedCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price/mint-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"asset_id": "mint-1", "price": 0.00123}`))
	}))
	defer srv.Close()

	price, err := NewRESTFeed(srv.URL).CurrentPrice(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, 0.00123, price)
}

func TestRESTFeedMissingQuoteIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such asset", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewRESTFeed(srv.URL).CurrentPrice(context.Background(), "mint-1")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestRESTFeedRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"asset_id": "mint-1", "price": 0}`))
	}))
	defer srv.Close()

	_, err := NewRESTFeed(srv.URL).CurrentPrice(context.Background(), "mint-1")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

type memCache struct {
	prices map[string]float64
	times  map[string]time.Time
	sets   int
}

func newMemCache() *memCache {
	return &memCache{prices: map[string]float64{}, times: map[string]time.Time{}}
}

func (c *memCache) SetPrice(_ context.Context, assetID string, price float64, ts time.Time) error {
	c.prices[assetID] = price
	c.times[assetID] = ts
	c.sets++
	return nil
}

func (c *memCache) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	price, ok := c.prices[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, c.times[assetID], nil
}

type countingFeed struct {
	price float64
	calls int
}

func (f *countingFeed) CurrentPrice(context.Context, string) (float64, error) {
	f.calls++
	return f.price, nil
}

func TestCachedFeedPrefersFreshCache(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := newMemCache()
	rest := &countingFeed{price: 0.002}
	cf := NewCachedFeed(cache, rest, 30*time.Second, logger)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cf.now = func() time.Time { return now }

	require.NoError(t, cache.SetPrice(context.Background(), "mint-1", 0.001, now.Add(-5*time.Second)))

	price, err := cf.CurrentPrice(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, 0.001, price)
	assert.Zero(t, rest.calls)
}

func TestCachedFeedFallsBackWhenStale(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := newMemCache()
	rest := &countingFeed{price: 0.002}
	cf := NewCachedFeed(cache, rest, 30*time.Second, logger)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cf.now = func() time.Time { return now }

	require.NoError(t, cache.SetPrice(context.Background(), "mint-1", 0.001, now.Add(-2*time.Minute)))
	cache.sets = 0

	price, err := cf.CurrentPrice(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, 0.002, price)
	assert.Equal(t, 1, rest.calls)
	// The fresh quote is written back.
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 0.002, cache.prices["mint-1"])
}

func TestCachedFeedFallsBackOnMiss(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := newMemCache()
	rest := &countingFeed{price: 0.002}
	cf := NewCachedFeed(cache, rest, 30*time.Second, logger)

	price, err := cf.CurrentPrice(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, 0.002, price)
	assert.Equal(t, 1, cache.sets)
}
