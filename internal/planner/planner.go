// Package planner turns a BUY advisory plus upstream token features into an
// entry plan: a token class, an entry strategy with its timing windows, and
// a capital allocation.
package planner

import (
	"log/slog"
	"time"

	"github.com/quantafe/tokensentry/internal/domain"
)

// TokenClass is the coarse classification driving entry-style selection.
type TokenClass string

const (
	// ClassViral: high social velocity, big following, fast pre-listing
	// ramp. The opportunity window is short, so capital goes in fast.
	ClassViral TokenClass = "viral"
	// ClassFundamentals: long steady pre-listing accumulation with a real
	// holder base. These often dip after listing, so we wait for one.
	ClassFundamentals TokenClass = "fundamentals"
	// ClassAmbiguous: mixed signal, entered conservatively in tranches.
	ClassAmbiguous TokenClass = "ambiguous"
)

// Params holds the classification thresholds, entry windows, and sizing
// knobs. Defaults reproduce the production values.
type Params struct {
	// Viral classification.
	ViralVelocity    float64
	ViralFollowers   int
	ViralEngagement  float64
	FastRampVelocity float64
	FastRampMaxHours float64

	// Fundamentals classification.
	FundamentalsMinHours    float64
	FundamentalsMaxVelocity float64
	FundamentalsMinHolders  int

	// Strategy selection.
	ImmediateMinLiquiditySOL float64

	// Entry windows and tranche shape.
	ImmediateWait      time.Duration
	DipWait            time.Duration
	DipTriggerPct      float64
	LadderWait         time.Duration
	LadderFirstTranche float64
	LadderConfirmHold  time.Duration

	// Sizing.
	MaxPositionPct  float64
	BaseSize        float64
	ConfidenceSize  map[domain.Confidence]float64
	RiskSizeDivisor float64 // risk 0 => 1.0x, risk 10 => 1 - 10/divisor
}

// DefaultParams returns the production planner parameters.
func DefaultParams() Params {
	return Params{
		ViralVelocity:    100,
		ViralFollowers:   50000,
		ViralEngagement:  500,
		FastRampVelocity: 50,
		FastRampMaxHours: 3,

		FundamentalsMinHours:    12,
		FundamentalsMaxVelocity: 50,
		FundamentalsMinHolders:  100,

		ImmediateMinLiquiditySOL: 20,

		ImmediateWait:      30 * time.Minute,
		DipWait:            6 * time.Hour,
		DipTriggerPct:      0.05,
		LadderWait:         2 * time.Hour,
		LadderFirstTranche: 0.5,
		LadderConfirmHold:  15 * time.Minute,

		MaxPositionPct: 0.10,
		BaseSize:       1000,
		ConfidenceSize: map[domain.Confidence]float64{
			domain.ConfidenceHigh:   1.0,
			domain.ConfidenceMedium: 0.6,
			domain.ConfidenceLow:    0.3,
		},
		RiskSizeDivisor: 20,
	}
}

// Plan is the concrete entry plan for one position.
type Plan struct {
	Class                TokenClass
	Strategy             domain.EntryStrategy
	Capital              float64
	WaitWindow           time.Duration
	DipTriggerPct        float64
	FirstTrancheFraction float64
	ConfirmHold          time.Duration
}

// Planner builds entry plans.
type Planner struct {
	params Params
	logger *slog.Logger
}

// New creates a Planner.
func New(params Params, logger *slog.Logger) *Planner {
	return &Planner{
		params: params,
		logger: logger.With(slog.String("component", "planner")),
	}
}

// Classify buckets a token from its upstream features.
func (p *Planner) Classify(f domain.TokenFeatures) TokenClass {
	isViral := f.SocialVelocity > p.params.ViralVelocity ||
		float64(f.SocialFollowers) > float64(p.params.ViralFollowers) ||
		f.EngagementRate > p.params.ViralEngagement ||
		(f.SocialVelocity > p.params.FastRampVelocity && f.HoursOnCurve < p.params.FastRampMaxHours)
	if isViral {
		return ClassViral
	}

	isFundamentals := f.HoursOnCurve > p.params.FundamentalsMinHours &&
		f.SocialVelocity < p.params.FundamentalsMaxVelocity &&
		f.UniqueHolders > p.params.FundamentalsMinHolders
	if isFundamentals {
		return ClassFundamentals
	}

	return ClassAmbiguous
}

// PositionSize computes the capital allocation for an advisory given the
// currently available capital: the smaller of a capped portfolio share and a
// confidence-scaled base size, then shrunk further as risk rises.
func (p *Planner) PositionSize(adv domain.Advisory, available float64) float64 {
	confMult, ok := p.params.ConfidenceSize[adv.Confidence]
	if !ok {
		confMult = p.params.ConfidenceSize[domain.ConfidenceLow]
	}

	size := min(p.params.MaxPositionPct*available, confMult*p.params.BaseSize)

	riskAdj := 1.0 - adv.RiskScore/p.params.RiskSizeDivisor
	if riskAdj < 0 {
		riskAdj = 0
	}
	return size * riskAdj
}

// BuildPlan selects the entry strategy for a classified token and sizes the
// allocation. Viral tokens with high conviction and real liquidity get the
// full allocation immediately; fundamentals-class tokens wait for a dip;
// everything else ladders in.
func (p *Planner) BuildPlan(adv domain.Advisory, f domain.TokenFeatures, available float64) Plan {
	class := p.Classify(f)

	plan := Plan{
		Class:   class,
		Capital: p.PositionSize(adv, available),
	}

	switch class {
	case ClassViral:
		if adv.Confidence == domain.ConfidenceHigh && f.InitialLiquiditySOL > p.params.ImmediateMinLiquiditySOL {
			plan.Strategy = domain.EntryImmediate
			plan.WaitWindow = p.params.ImmediateWait
		} else {
			plan.Strategy = domain.EntryLadder
			plan.WaitWindow = p.params.LadderWait
			plan.FirstTrancheFraction = p.params.LadderFirstTranche
			plan.ConfirmHold = p.params.LadderConfirmHold
		}
	case ClassFundamentals:
		plan.Strategy = domain.EntryWaitForDip
		plan.WaitWindow = p.params.DipWait
		plan.DipTriggerPct = p.params.DipTriggerPct
	default:
		plan.Strategy = domain.EntryLadder
		plan.WaitWindow = p.params.LadderWait
		plan.FirstTrancheFraction = p.params.LadderFirstTranche
		plan.ConfirmHold = p.params.LadderConfirmHold
	}

	p.logger.Debug("entry plan built",
		slog.String("asset_id", adv.AssetID),
		slog.String("class", string(plan.Class)),
		slog.String("strategy", string(plan.Strategy)),
		slog.Float64("capital", plan.Capital),
	)
	return plan
}
