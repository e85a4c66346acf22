// Package oracle is the HTTP client for the external token screener and its
// LLM-backed advisory endpoint. Enum-ish fields are parsed at this boundary
// so malformed oracle output never reaches position arithmetic.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quantafe/tokensentry/internal/domain"
)

// Client talks to the screener/oracle service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new oracle client.
//
// baseURL is the service root, e.g. "https://oracle.internal:8443/v1".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// candidatePayload is the wire form of one screener candidate.
type candidatePayload struct {
	AssetID             string  `json:"asset_id"`
	Symbol              string  `json:"symbol"`
	SocialVelocity      float64 `json:"social_velocity"`
	SocialFollowers     int     `json:"social_followers"`
	EngagementRate      float64 `json:"engagement_rate"`
	HoursOnCurve        float64 `json:"hours_on_curve"`
	UniqueHolders       int     `json:"unique_holders"`
	InitialLiquiditySOL float64 `json:"initial_liquidity_sol"`
	VolumeIncrease      float64 `json:"volume_increase"`
}

func (p candidatePayload) features() domain.TokenFeatures {
	return domain.TokenFeatures{
		SocialVelocity:      p.SocialVelocity,
		SocialFollowers:     p.SocialFollowers,
		EngagementRate:      p.EngagementRate,
		HoursOnCurve:        p.HoursOnCurve,
		UniqueHolders:       p.UniqueHolders,
		InitialLiquiditySOL: p.InitialLiquiditySOL,
		VolumeIncrease:      p.VolumeIncrease,
	}
}

// PendingCandidates lists freshly-listed tokens the screener has surfaced but
// not yet seen an advisory for.
func (c *Client) PendingCandidates(ctx context.Context) ([]domain.Candidate, error) {
	var payload struct {
		Candidates []candidatePayload `json:"candidates"`
	}
	if err := c.doGet(ctx, "/candidates", &payload); err != nil {
		return nil, fmt.Errorf("oracle: list candidates: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(payload.Candidates))
	for _, p := range payload.Candidates {
		candidates = append(candidates, domain.Candidate{
			AssetID:  p.AssetID,
			Symbol:   p.Symbol,
			Features: p.features(),
		})
	}
	return candidates, nil
}

// advisoryPayload is the wire form of an oracle evaluation.
type advisoryPayload struct {
	AssetID              string  `json:"asset_id"`
	Symbol               string  `json:"symbol"`
	Recommendation       string  `json:"recommendation"`
	Confidence           string  `json:"confidence"`
	RiskScore            float64 `json:"risk_score"`
	Category             string  `json:"category"`
	DevRisk              string  `json:"dev_risk"`
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
}

// Evaluate asks the oracle for an advisory on one token.
func (c *Client) Evaluate(ctx context.Context, assetID string, features domain.TokenFeatures) (domain.Advisory, error) {
	req := candidatePayload{
		AssetID:             assetID,
		SocialVelocity:      features.SocialVelocity,
		SocialFollowers:     features.SocialFollowers,
		EngagementRate:      features.EngagementRate,
		HoursOnCurve:        features.HoursOnCurve,
		UniqueHolders:       features.UniqueHolders,
		InitialLiquiditySOL: features.InitialLiquiditySOL,
		VolumeIncrease:      features.VolumeIncrease,
	}

	var payload advisoryPayload
	if err := c.doPost(ctx, "/evaluate", req, &payload); err != nil {
		return domain.Advisory{}, fmt.Errorf("oracle: evaluate %s: %w", assetID, err)
	}
	adv, err := parseAdvisory(payload)
	if err != nil {
		return domain.Advisory{}, fmt.Errorf("oracle: evaluate %s: %w", assetID, err)
	}
	if adv.AssetID == "" {
		adv.AssetID = assetID
	}
	return adv, nil
}

// parseAdvisory converts the wire payload into a validated domain advisory.
func parseAdvisory(p advisoryPayload) (domain.Advisory, error) {
	rec, err := domain.ParseRecommendation(p.Recommendation)
	if err != nil {
		return domain.Advisory{}, err
	}
	conf, err := domain.ParseConfidence(p.Confidence)
	if err != nil {
		return domain.Advisory{}, err
	}
	devRisk, err := domain.ParseDevRisk(p.DevRisk)
	if err != nil {
		return domain.Advisory{}, err
	}

	adv := domain.Advisory{
		AssetID:              p.AssetID,
		Symbol:               p.Symbol,
		Recommendation:       rec,
		Confidence:           conf,
		RiskScore:            p.RiskScore,
		Category:             domain.ParseTokenCategory(p.Category),
		DevRisk:              devRisk,
		VolatilityMultiplier: p.VolatilityMultiplier,
	}
	if err := adv.Validate(); err != nil {
		return domain.Advisory{}, err
	}
	return adv, nil
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
