// Package feed supplies token prices: a REST lookup, a WebSocket trade
// stream that keeps the price cache warm, and a cache-first composite that
// the monitor reads from.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quantafe/tokensentry/internal/domain"
)

// RESTFeed fetches spot prices from the market-data HTTP API.
type RESTFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTFeed creates a RESTFeed.
//
// baseURL is the market-data API root, e.g. "https://quotes.internal/v1".
func NewRESTFeed(baseURL string) *RESTFeed {
	return &RESTFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CurrentPrice returns the latest quote for the asset. Any failure to obtain
// a usable price wraps ErrPriceUnavailable: for the monitor a missing quote
// and an unreachable API mean the same thing, skip the asset this tick.
func (f *RESTFeed) CurrentPrice(ctx context.Context, assetID string) (float64, error) {
	url := fmt.Sprintf("%s/price/%s", f.baseURL, assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("feed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("feed: %s: %w: %v", assetID, domain.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed: %s: %w: status %d", assetID, domain.ErrPriceUnavailable, resp.StatusCode)
	}

	var payload struct {
		AssetID string  `json:"asset_id"`
		Price   float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("feed: %s: %w: decode: %v", assetID, domain.ErrPriceUnavailable, err)
	}
	if payload.Price <= 0 {
		return 0, fmt.Errorf("feed: %s: %w: non-positive price", assetID, domain.ErrPriceUnavailable)
	}
	return payload.Price, nil
}
