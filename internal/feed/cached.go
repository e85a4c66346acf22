package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantafe/tokensentry/internal/domain"
)

// CachedFeed reads the streaming price cache first and falls back to the
// REST feed when the cached quote is missing or stale. REST results are
// written back so repeated lookups within the freshness window stay local.
type CachedFeed struct {
	cache    domain.PriceCache
	fallback domain.PriceFeed
	maxAge   time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// NewCachedFeed creates a CachedFeed. maxAge bounds how old a cached quote
// may be before the REST fallback is consulted.
func NewCachedFeed(cache domain.PriceCache, fallback domain.PriceFeed, maxAge time.Duration, logger *slog.Logger) *CachedFeed {
	return &CachedFeed{
		cache:    cache,
		fallback: fallback,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "cached_feed")),
		now:      time.Now,
	}
}

// CurrentPrice implements domain.PriceFeed.
func (f *CachedFeed) CurrentPrice(ctx context.Context, assetID string) (float64, error) {
	price, ts, err := f.cache.GetPrice(ctx, assetID)
	switch {
	case err == nil:
		if f.now().Sub(ts) <= f.maxAge {
			return price, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		// Cache trouble is not price trouble; fall through to REST.
		f.logger.Warn("price cache read failed",
			slog.String("asset_id", assetID),
			slog.Any("error", err),
		)
	}

	price, err = f.fallback.CurrentPrice(ctx, assetID)
	if err != nil {
		return 0, err
	}
	if cacheErr := f.cache.SetPrice(ctx, assetID, price, f.now()); cacheErr != nil {
		f.logger.Warn("price cache write failed",
			slog.String("asset_id", assetID),
			slog.Any("error", cacheErr),
		)
	}
	return price, nil
}
