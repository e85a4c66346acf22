package domain

import "time"

// PositionStatus tracks a position through its lifecycle. WATCHING and
// ENTERING are pre-fill states; CLOSED and EXPIRED are terminal.
type PositionStatus string

const (
	PositionStatusWatching PositionStatus = "watching"
	PositionStatusEntering PositionStatus = "entering"
	PositionStatusOpen     PositionStatus = "open"
	PositionStatusClosed   PositionStatus = "closed"
	PositionStatusExpired  PositionStatus = "expired"
)

// Terminal reports whether the status is an end state. A terminal position
// never transitions again and its capital has been returned to the ledger.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusExpired
}

// EntryStrategy selects how capital is committed once a BUY advisory lands.
type EntryStrategy string

const (
	EntryImmediate  EntryStrategy = "immediate"
	EntryWaitForDip EntryStrategy = "wait_for_dip"
	EntryLadder     EntryStrategy = "ladder"
)

// Rating is the qualitative reward:risk assessment computed at intake.
type Rating string

const (
	RatingExcellent Rating = "EXCELLENT"
	RatingGood      Rating = "GOOD"
	RatingFair      Rating = "FAIR"
	RatingPoor      Rating = "POOR"
)

// TakeProfitStage is one threshold/exit-fraction pair of the staged exit
// plan. Executed is write-once: once a stage has settled it never re-fires.
type TakeProfitStage struct {
	Name              string     `json:"name"`
	ThresholdMultiple float64    `json:"threshold_multiple"` // gain over entry, e.g. 0.5 = +50%
	Price             float64    `json:"price"`
	ExitFraction      float64    `json:"exit_fraction"`
	Executed          bool       `json:"executed"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
}

// PartialExit records one settled partial exit (a TP stage firing).
type PartialExit struct {
	Stage    string    `json:"stage"`
	Price    float64   `json:"price"`
	Fraction float64   `json:"fraction"`
	PnL      float64   `json:"pnl"`
	At       time.Time `json:"at"`
}

// Position is a capital-bearing stake in one asset under active risk
// management. There is at most one non-terminal Position per asset.
//
// All risk thresholds are computed once at entry from the advisory snapshot
// carried on the Position; later configuration changes never retroactively
// alter an open position.
type Position struct {
	ID            string
	AssetID       string
	Symbol        string
	Status        PositionStatus
	EntryStrategy EntryStrategy

	// Advisory snapshot at creation time.
	Confidence           Confidence
	RiskScore            float64
	Category             TokenCategory
	DevRisk              DevRisk
	VolatilityMultiplier float64
	Rating               Rating

	// Capital. AllocatedCapital is owned exclusively by this position once
	// the ledger authorizes it, and is returned exactly once, at CLOSED or
	// EXPIRED (plus an early release of the unfilled ladder remainder).
	// FilledFraction is the entered share of the allocation and is frozen
	// once the entry phase ends; staged take-profit exits reduce
	// RemainingExitFraction, never FilledFraction.
	AllocatedCapital  float64
	FilledFraction    float64
	RemainderReleased bool

	// Entry plan parameters, frozen at creation.
	WaitWindow           time.Duration
	DipTriggerPct        float64
	FirstTrancheFraction float64
	ConfirmHold          time.Duration

	// Watch-phase tracking.
	ReferencePrice  float64
	PeakSinceWatch  float64
	AboveEntrySince time.Time // ladder confirmation: price continuously above entry since

	// Risk thresholds, set at first fill.
	EntryPrice            float64
	BaseStopLossPct       float64
	StopLossPct           float64 // current, only ever tightens
	StopLossPrice         float64
	Stages                []TakeProfitStage
	RemainingExitFraction float64 // 1 − sum of executed stage fractions

	// Trailing stop.
	TrailingActive      bool
	TrailingDistancePct float64
	TrailingStopPrice   float64
	PeakPrice           float64 // monotonic while trailing is active

	// Live tracking.
	CurrentPrice  float64
	HighestPrice  float64
	LowestPrice   float64
	MaxDrawdown   float64
	UnrealizedPnL float64
	RealizedPnL   float64
	PartialExits  []PartialExit

	WatchStartedAt time.Time
	OpenedAt       time.Time
	ClosedAt       *time.Time
	ExitReason     string
}

// AdvisorySnapshot reconstructs the advisory the position was opened on.
// Positions only exist for BUY recommendations.
func (p *Position) AdvisorySnapshot() Advisory {
	return Advisory{
		AssetID:              p.AssetID,
		Symbol:               p.Symbol,
		Recommendation:       RecommendationBuy,
		Confidence:           p.Confidence,
		RiskScore:            p.RiskScore,
		Category:             p.Category,
		DevRisk:              p.DevRisk,
		VolatilityMultiplier: p.VolatilityMultiplier,
	}
}

// EffectiveCapital is the slice of the allocation actually deployed. It
// differs from AllocatedCapital while a ladder entry is partially filled.
func (p *Position) EffectiveCapital() float64 {
	return p.AllocatedCapital * p.FilledFraction
}

// UnfilledCapital is the authorized-but-not-deployed remainder.
func (p *Position) UnfilledCapital() float64 {
	return p.AllocatedCapital * (1 - p.FilledFraction)
}

// GainAt returns the fractional gain over entry at the given price.
// Returns 0 before the first fill.
func (p *Position) GainAt(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// ApplyRiskProfile installs the computed risk thresholds on the position.
// Called exactly once, immediately before the first fill.
func (p *Position) ApplyRiskProfile(stopPct, stopPrice float64, stages []TakeProfitStage, trailingDistancePct float64) {
	p.BaseStopLossPct = stopPct
	p.StopLossPct = stopPct
	p.StopLossPrice = stopPrice
	p.Stages = stages
	p.TrailingDistancePct = trailingDistancePct
	p.RemainingExitFraction = 1.0
}

// ApplyFill records a (possibly partial) entry fill. The first fill fixes
// the entry price; later ladder fills only raise FilledFraction. Cost basis
// stays at the first fill price. The caller publishes the matching status
// change (see EntryStatus) so concurrent readers never see a torn state.
func (p *Position) ApplyFill(price, fraction float64, now time.Time) {
	if p.EntryPrice == 0 {
		p.EntryPrice = price
		p.OpenedAt = now
		p.CurrentPrice = price
		p.HighestPrice = price
		p.LowestPrice = price
	}
	p.FilledFraction += fraction
	if p.FilledFraction > 1.0 {
		p.FilledFraction = 1.0
	}
}

// EntryStatus returns the lifecycle status implied by the fill state:
// ENTERING while a ladder remainder is still outstanding, OPEN once the
// position is fully filled or the remainder has been released. Only
// meaningful after the first fill.
func (p *Position) EntryStatus() PositionStatus {
	if p.FilledFraction < 1 && !p.RemainderReleased {
		return PositionStatusEntering
	}
	return PositionStatusOpen
}

// Clone returns a deep copy safe to read after the original has been handed
// to the monitor goroutine.
func (p *Position) Clone() Position {
	out := *p
	out.Stages = append([]TakeProfitStage(nil), p.Stages...)
	out.PartialExits = append([]PartialExit(nil), p.PartialExits...)
	return out
}

// MarkPrice updates live price tracking: current, extremes, drawdown from
// the high, and unrealized PnL on the still-held fraction.
func (p *Position) MarkPrice(price float64) {
	p.CurrentPrice = price
	if p.Status != PositionStatusOpen && p.Status != PositionStatusEntering {
		return
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
	if p.HighestPrice > 0 {
		dd := (p.HighestPrice - price) / p.HighestPrice
		if dd > p.MaxDrawdown {
			p.MaxDrawdown = dd
		}
	}
	p.UnrealizedPnL = p.GainAt(price) * p.EffectiveCapital() * p.RemainingExitFraction
}

// ClosedTrade is one append-only journal row, written when a position
// reaches a terminal state.
type ClosedTrade struct {
	PositionID       string
	AssetID          string
	Symbol           string
	EntryStrategy    EntryStrategy
	Status           PositionStatus
	EntryPrice       float64
	ExitPrice        float64
	AllocatedCapital float64
	FilledFraction   float64
	RealizedPnL      float64
	MaxDrawdown      float64
	ExitReason       string
	OpenedAt         time.Time
	ClosedAt         time.Time
}
