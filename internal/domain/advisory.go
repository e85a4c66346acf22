package domain

import (
	"context"
	"fmt"
	"strings"
)

// Recommendation is the advisory oracle's verdict on a candidate token.
type Recommendation string

const (
	RecommendationBuy   Recommendation = "BUY"
	RecommendationHold  Recommendation = "HOLD"
	RecommendationAvoid Recommendation = "AVOID"
)

// ParseRecommendation converts a raw oracle string into a Recommendation.
// Unknown values are rejected at the boundary so they cannot leak into
// position arithmetic.
func ParseRecommendation(s string) (Recommendation, error) {
	switch Recommendation(strings.ToUpper(strings.TrimSpace(s))) {
	case RecommendationBuy:
		return RecommendationBuy, nil
	case RecommendationHold:
		return RecommendationHold, nil
	case RecommendationAvoid:
		return RecommendationAvoid, nil
	default:
		return "", fmt.Errorf("%w: recommendation %q", ErrInvalidAdvisory, s)
	}
}

// Confidence is the oracle's conviction level for a recommendation.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ParseConfidence converts a raw oracle string into a Confidence.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(strings.ToUpper(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh, nil
	case ConfidenceMedium:
		return ConfidenceMedium, nil
	case ConfidenceLow:
		return ConfidenceLow, nil
	default:
		return "", fmt.Errorf("%w: confidence %q", ErrInvalidAdvisory, s)
	}
}

// TokenCategory classifies what kind of token this is. Categories influence
// stop-loss width; a value outside the known set maps to CategoryUnknown
// (neutral 1.0 factor) rather than failing, since new categories appear
// upstream faster than we ship.
type TokenCategory string

const (
	CategoryTech    TokenCategory = "tech"
	CategoryMeme    TokenCategory = "meme"
	CategoryViral   TokenCategory = "viral"
	CategoryGaming  TokenCategory = "gaming"
	CategoryDefi    TokenCategory = "defi"
	CategoryUnknown TokenCategory = "unknown"
)

// ParseTokenCategory normalizes a raw category string. Unrecognized values
// become CategoryUnknown.
func ParseTokenCategory(s string) TokenCategory {
	switch TokenCategory(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryTech:
		return CategoryTech
	case CategoryMeme:
		return CategoryMeme
	case CategoryViral:
		return CategoryViral
	case CategoryGaming:
		return CategoryGaming
	case CategoryDefi:
		return CategoryDefi
	default:
		return CategoryUnknown
	}
}

// DevRisk grades the token deployer's history (prior rugs, funding sources,
// wallet clustering). Riskier developer history tightens stop protection.
type DevRisk string

const (
	DevRiskLow    DevRisk = "LOW"
	DevRiskMedium DevRisk = "MEDIUM"
	DevRiskHigh   DevRisk = "HIGH"
)

// ParseDevRisk converts a raw oracle string into a DevRisk.
func ParseDevRisk(s string) (DevRisk, error) {
	switch DevRisk(strings.ToUpper(strings.TrimSpace(s))) {
	case DevRiskLow:
		return DevRiskLow, nil
	case DevRiskMedium:
		return DevRiskMedium, nil
	case DevRiskHigh:
		return DevRiskHigh, nil
	default:
		return "", fmt.Errorf("%w: dev risk %q", ErrInvalidAdvisory, s)
	}
}

// Advisory is the oracle's full evaluation of one candidate token. Positions
// are only ever created from a BUY advisory.
type Advisory struct {
	AssetID        string
	Symbol         string
	Recommendation Recommendation
	Confidence     Confidence
	RiskScore      float64 // 0 (safest) .. 10 (most dangerous)
	Category       TokenCategory
	DevRisk        DevRisk
	// VolatilityMultiplier widens (>1) or tightens (<1) the stop-loss when
	// volatility data is available. Zero means "no data" and is treated as 1.0.
	VolatilityMultiplier float64
}

// Validate rejects advisories with missing or out-of-range fields. All
// failures wrap ErrInvalidAdvisory.
func (a Advisory) Validate() error {
	if strings.TrimSpace(a.AssetID) == "" {
		return fmt.Errorf("%w: empty asset id", ErrInvalidAdvisory)
	}
	if _, err := ParseRecommendation(string(a.Recommendation)); err != nil {
		return err
	}
	if _, err := ParseConfidence(string(a.Confidence)); err != nil {
		return err
	}
	if _, err := ParseDevRisk(string(a.DevRisk)); err != nil {
		return err
	}
	if a.RiskScore < 0 || a.RiskScore > 10 {
		return fmt.Errorf("%w: risk score %.2f outside [0,10]", ErrInvalidAdvisory, a.RiskScore)
	}
	if a.VolatilityMultiplier < 0 {
		return fmt.Errorf("%w: negative volatility multiplier %.2f", ErrInvalidAdvisory, a.VolatilityMultiplier)
	}
	return nil
}

// Volatility returns the effective volatility multiplier, defaulting the
// zero value ("no data") to 1.0.
func (a Advisory) Volatility() float64 {
	if a.VolatilityMultiplier == 0 {
		return 1.0
	}
	return a.VolatilityMultiplier
}

// TokenFeatures are the upstream-computed signals used to classify a token
// and pick an entry style. Feature computation itself lives outside this
// service; we only consume the numbers.
type TokenFeatures struct {
	SocialVelocity      float64 // aggregator scan velocity, scans/hour
	SocialFollowers     int     // primary account follower count
	EngagementRate      float64 // average engagement per post
	HoursOnCurve        float64 // time spent in the pre-listing bonding phase
	UniqueHolders       int     // distinct wallets holding pre-listing
	InitialLiquiditySOL float64 // liquidity seeded at listing
	VolumeIncrease      float64 // short-window volume ratio, 1.0 = flat
}

// AdvisoryOracle is the external LLM-backed reasoning service that evaluates
// candidate tokens. Consumed at its interface boundary only.
type AdvisoryOracle interface {
	Evaluate(ctx context.Context, assetID string, features TokenFeatures) (Advisory, error)
}

// Candidate is one freshly-listed token surfaced by the upstream screener,
// with the features computed for it.
type Candidate struct {
	AssetID  string
	Symbol   string
	Features TokenFeatures
}

// CandidateSource lists tokens awaiting evaluation.
type CandidateSource interface {
	PendingCandidates(ctx context.Context) ([]Candidate, error)
}
