// Package risk computes adaptive stop-loss, staged take-profit, trailing-stop
// and trade-quality parameters from an advisory snapshot. Everything here is
// pure: the calculator holds tunable parameters and no other state.
package risk

import (
	"math"
	"time"

	"github.com/quantafe/tokensentry/internal/domain"
)

// StageParam configures one take-profit stage.
type StageParam struct {
	Name         string
	Threshold    float64 // gain over entry, 0.5 = +50%
	ExitFraction float64
}

// Params holds every tunable used by the calculator. Defaults reproduce the
// production values; operators may override them through configuration, but
// changes never retroactively touch already-open positions.
type Params struct {
	// Base stop-loss percentage by risk-score bucket.
	HighRiskStopPct   float64 // risk_score >= 7
	MediumRiskStopPct float64 // risk_score >= 4
	LowRiskStopPct    float64 // otherwise

	ConfidenceFactor map[domain.Confidence]float64
	CategoryFactor   map[domain.TokenCategory]float64
	DevRiskFactor    map[domain.DevRisk]float64

	StopLossFloor float64
	StopLossCeil  float64

	Stages []StageParam

	TrailingActivationGain float64
	TrailingDistance       map[domain.Confidence]float64

	// Time decay: after DecayAfter the stop-loss distance is multiplied by
	// DecayRate per full day since entry.
	DecayAfter time.Duration
	DecayRate  float64

	// Quality rating thresholds on the reward:risk ratio.
	ExcellentRatio float64
	GoodRatio      float64
	FairRatio      float64
	// PoorRiskScore forces a POOR rating regardless of ratio.
	PoorRiskScore float64
}

// DefaultParams returns the production parameter set.
func DefaultParams() Params {
	return Params{
		HighRiskStopPct:   0.12,
		MediumRiskStopPct: 0.15,
		LowRiskStopPct:    0.20,
		ConfidenceFactor: map[domain.Confidence]float64{
			domain.ConfidenceHigh:   0.8,
			domain.ConfidenceMedium: 1.0,
			domain.ConfidenceLow:    1.3,
		},
		CategoryFactor: map[domain.TokenCategory]float64{
			domain.CategoryMeme:    1.3,
			domain.CategoryTech:    0.9,
			domain.CategoryViral:   1.2,
			domain.CategoryGaming:  1.0,
			domain.CategoryDefi:    0.9,
			domain.CategoryUnknown: 1.0,
		},
		DevRiskFactor: map[domain.DevRisk]float64{
			domain.DevRiskLow:    1.0,
			domain.DevRiskMedium: 0.85,
			domain.DevRiskHigh:   0.7,
		},
		StopLossFloor: 0.05,
		StopLossCeil:  0.30,
		Stages: []StageParam{
			{Name: "First Target", Threshold: 0.50, ExitFraction: 0.30},
			{Name: "Second Target", Threshold: 1.00, ExitFraction: 0.30},
			{Name: "Moon Target", Threshold: 2.00, ExitFraction: 0.20},
		},
		TrailingActivationGain: 0.30,
		TrailingDistance: map[domain.Confidence]float64{
			domain.ConfidenceHigh:   0.15,
			domain.ConfidenceMedium: 0.20,
			domain.ConfidenceLow:    0.25,
		},
		DecayAfter:     24 * time.Hour,
		DecayRate:      0.9,
		ExcellentRatio: 3.0,
		GoodRatio:      2.0,
		FairRatio:      1.5,
		PoorRiskScore:  7,
	}
}

// Calculator derives risk thresholds from advisories.
type Calculator struct {
	params Params
}

// New creates a Calculator with the given parameters.
func New(params Params) *Calculator {
	return &Calculator{params: params}
}

// StopLossPct computes the adaptive stop-loss distance for an advisory:
// a base percentage by risk bucket, scaled by confidence, category, dev-risk
// and volatility factors, clamped to [floor, ceil].
func (c *Calculator) StopLossPct(adv domain.Advisory) float64 {
	var base float64
	switch {
	case adv.RiskScore >= 7:
		base = c.params.HighRiskStopPct
	case adv.RiskScore >= 4:
		base = c.params.MediumRiskStopPct
	default:
		base = c.params.LowRiskStopPct
	}

	pct := base *
		factor(c.params.ConfidenceFactor, adv.Confidence) *
		factor(c.params.CategoryFactor, adv.Category) *
		factor(c.params.DevRiskFactor, adv.DevRisk) *
		adv.Volatility()

	return clamp(pct, c.params.StopLossFloor, c.params.StopLossCeil)
}

// StopLossPrice converts a stop distance to an absolute price below entry.
func StopLossPrice(entryPrice, stopPct float64) float64 {
	return entryPrice * (1 - stopPct)
}

// TakeProfitStages builds the staged exit plan relative to the entry price.
// The exit fractions deliberately sum below 1.0; the remainder stays under
// trailing-stop management.
func (c *Calculator) TakeProfitStages(entryPrice float64) []domain.TakeProfitStage {
	stages := make([]domain.TakeProfitStage, 0, len(c.params.Stages))
	for _, sp := range c.params.Stages {
		stages = append(stages, domain.TakeProfitStage{
			Name:              sp.Name,
			ThresholdMultiple: sp.Threshold,
			Price:             entryPrice * (1 + sp.Threshold),
			ExitFraction:      sp.ExitFraction,
		})
	}
	return stages
}

// TrailingRemainder is the position fraction left to the trailing stop after
// every stage has fired.
func (c *Calculator) TrailingRemainder() float64 {
	staged := 0.0
	for _, sp := range c.params.Stages {
		staged += sp.ExitFraction
	}
	return 1 - staged
}

// TrailingDistance returns the confidence-dependent distance kept below the
// peak price once trailing is active.
func (c *Calculator) TrailingDistance(conf domain.Confidence) float64 {
	if d, ok := c.params.TrailingDistance[conf]; ok {
		return d
	}
	return c.params.TrailingDistance[domain.ConfidenceMedium]
}

// ShouldActivateTrailing reports whether unrealized gain has reached the
// trailing activation threshold.
func (c *Calculator) ShouldActivateTrailing(entryPrice, currentPrice float64) bool {
	if entryPrice <= 0 {
		return false
	}
	return (currentPrice-entryPrice)/entryPrice >= c.params.TrailingActivationGain
}

// TrailingStopPrice computes the stop level for a given peak.
func TrailingStopPrice(peakPrice, distancePct float64) float64 {
	return peakPrice * (1 - distancePct)
}

// TimeDecayedStopLossPct recomputes the stop distance from the base
// percentage and the entry timestamp. Until DecayAfter has elapsed the base
// is returned unchanged; afterwards the distance shrinks by DecayRate per
// full elapsed day. Recomputing from opened-at (rather than compounding
// stored state) keeps the operation idempotent across repeated ticks.
func (c *Calculator) TimeDecayedStopLossPct(basePct float64, openedAt, now time.Time) float64 {
	elapsed := now.Sub(openedAt)
	if elapsed < c.params.DecayAfter {
		return basePct
	}
	fullDays := int(elapsed / (24 * time.Hour))
	if fullDays <= 0 {
		return basePct
	}
	pct := basePct * math.Pow(c.params.DecayRate, float64(fullDays))
	if pct < c.params.StopLossFloor {
		pct = c.params.StopLossFloor
	}
	return pct
}

// Assess rates trade quality from the reward:risk ratio: the distance to the
// first take-profit stage over the stop-loss distance. High overall risk or
// HIGH dev risk force POOR regardless of the ratio.
func (c *Calculator) Assess(adv domain.Advisory, stopPct float64) domain.Rating {
	if adv.RiskScore >= c.params.PoorRiskScore || adv.DevRisk == domain.DevRiskHigh {
		return domain.RatingPoor
	}
	if len(c.params.Stages) == 0 || stopPct <= 0 {
		return domain.RatingPoor
	}
	ratio := c.params.Stages[0].Threshold / stopPct
	switch {
	case ratio >= c.params.ExcellentRatio:
		return domain.RatingExcellent
	case ratio >= c.params.GoodRatio:
		return domain.RatingGood
	case ratio >= c.params.FairRatio:
		return domain.RatingFair
	default:
		return domain.RatingPoor
	}
}

// Profile bundles every threshold derived for one entry.
type Profile struct {
	StopLossPct         float64
	StopLossPrice       float64
	Stages              []domain.TakeProfitStage
	TrailingDistancePct float64
	Rating              domain.Rating
}

// BuildProfile derives the full risk profile for an entry at the given price.
func (c *Calculator) BuildProfile(entryPrice float64, adv domain.Advisory) Profile {
	stopPct := c.StopLossPct(adv)
	return Profile{
		StopLossPct:         stopPct,
		StopLossPrice:       StopLossPrice(entryPrice, stopPct),
		Stages:              c.TakeProfitStages(entryPrice),
		TrailingDistancePct: c.TrailingDistance(adv.Confidence),
		Rating:              c.Assess(adv, stopPct),
	}
}

func factor[K comparable](m map[K]float64, k K) float64 {
	if f, ok := m[k]; ok {
		return f
	}
	return 1.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
