// Package service holds the signal-facing layer: intake turns advisories into
// managed positions, the scanner drives intake from the upstream screener.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantafe/tokensentry/internal/book"
	"github.com/quantafe/tokensentry/internal/domain"
	"github.com/quantafe/tokensentry/internal/ledger"
	"github.com/quantafe/tokensentry/internal/notify"
	"github.com/quantafe/tokensentry/internal/planner"
	"github.com/quantafe/tokensentry/internal/risk"
)

// Intake converts BUY advisories into positions: plan, capital authorization,
// and either an instant fill or a watch for the monitor to act on.
type Intake struct {
	planner  *planner.Planner
	calc     *risk.Calculator
	ledger   *ledger.Ledger
	book     *book.Book
	feed     domain.PriceFeed
	repo     domain.PositionRepository
	journal  domain.TradeJournal
	accounts domain.AccountStore
	notifier *notify.Notifier
	logger   *slog.Logger

	now func() time.Time
}

// NewIntake creates an Intake service.
func NewIntake(
	pl *planner.Planner,
	calc *risk.Calculator,
	led *ledger.Ledger,
	bk *book.Book,
	feed domain.PriceFeed,
	repo domain.PositionRepository,
	journal domain.TradeJournal,
	accounts domain.AccountStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Intake {
	return &Intake{
		planner:  pl,
		calc:     calc,
		ledger:   led,
		book:     bk,
		feed:     feed,
		repo:     repo,
		journal:  journal,
		accounts: accounts,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "intake")),
		now:      time.Now,
	}
}

// Consider evaluates one advisory. Non-BUY recommendations return (nil, nil):
// they are advisory-only and leave no trace beyond a log line. A BUY yields
// a new position, or an error when validation, duplication or capital rules
// refuse it.
func (s *Intake) Consider(ctx context.Context, adv domain.Advisory, features domain.TokenFeatures) (*domain.Position, error) {
	if err := adv.Validate(); err != nil {
		return nil, fmt.Errorf("intake: advisory for %q: %w", adv.AssetID, err)
	}
	if adv.Recommendation != domain.RecommendationBuy {
		s.logger.Debug("advisory skipped",
			slog.String("asset_id", adv.AssetID),
			slog.String("recommendation", string(adv.Recommendation)),
		)
		return nil, nil
	}
	if s.book.HasActive(adv.AssetID) {
		return nil, fmt.Errorf("intake: asset %s: %w", adv.AssetID, domain.ErrDuplicatePosition)
	}

	plan := s.planner.BuildPlan(adv, features, s.ledger.Available())
	if err := s.ledger.Authorize(plan.Capital); err != nil {
		return nil, fmt.Errorf("intake: allocate %.2f for %s: %w", plan.Capital, adv.AssetID, err)
	}

	now := s.now()
	pos := &domain.Position{
		ID:                   uuid.NewString(),
		AssetID:              adv.AssetID,
		Symbol:               adv.Symbol,
		Status:               domain.PositionStatusWatching,
		EntryStrategy:        plan.Strategy,
		Confidence:           adv.Confidence,
		RiskScore:            adv.RiskScore,
		Category:             adv.Category,
		DevRisk:              adv.DevRisk,
		VolatilityMultiplier: adv.VolatilityMultiplier,
		AllocatedCapital:     plan.Capital,
		WaitWindow:           plan.WaitWindow,
		DipTriggerPct:        plan.DipTriggerPct,
		FirstTrancheFraction: plan.FirstTrancheFraction,
		ConfirmHold:          plan.ConfirmHold,
		WatchStartedAt:       now,
	}

	price, err := s.feed.CurrentPrice(ctx, adv.AssetID)
	switch {
	case err == nil:
		pos.ReferencePrice = price
		pos.PeakSinceWatch = price
		pos.CurrentPrice = price
		s.fillAtIntake(pos, price, now)
	case errors.Is(err, domain.ErrPriceUnavailable):
		// No price yet: the position starts watching and the monitor fills
		// it on the first priced tick inside the entry window.
		s.logger.Warn("no price at intake, deferring entry",
			slog.String("asset_id", adv.AssetID),
		)
	default:
		s.ledger.Settle(plan.Capital, 0)
		return nil, fmt.Errorf("intake: price %s: %w", adv.AssetID, err)
	}

	// Once the book admits the position the monitor goroutine owns it, so
	// everything after admission reads this pre-publication copy.
	snap := pos.Clone()
	if err := s.book.Open(pos); err != nil {
		s.ledger.Settle(plan.Capital, 0)
		return nil, fmt.Errorf("intake: open %s: %w", adv.AssetID, err)
	}

	s.persist(ctx, &snap)
	s.announce(ctx, &snap, plan)

	s.logger.Info("position created",
		slog.String("position_id", snap.ID),
		slog.String("asset_id", snap.AssetID),
		slog.String("symbol", snap.Symbol),
		slog.String("class", string(plan.Class)),
		slog.String("strategy", string(snap.EntryStrategy)),
		slog.String("status", string(snap.Status)),
		slog.Float64("capital", snap.AllocatedCapital),
		slog.String("rating", string(snap.Rating)),
	)
	return pos, nil
}

// fillAtIntake applies the strategy's instant portion when the intake tick
// has a price: immediate entries fill fully, ladders fill the first tranche,
// dip watches only record the reference price.
func (s *Intake) fillAtIntake(pos *domain.Position, price float64, now time.Time) {
	profile := s.calc.BuildProfile(price, pos.AdvisorySnapshot())
	pos.Rating = profile.Rating

	switch pos.EntryStrategy {
	case domain.EntryImmediate:
		pos.ApplyRiskProfile(profile.StopLossPct, profile.StopLossPrice, profile.Stages, profile.TrailingDistancePct)
		pos.ApplyFill(price, 1.0, now)
		pos.Status = pos.EntryStatus()
	case domain.EntryLadder:
		pos.ApplyRiskProfile(profile.StopLossPct, profile.StopLossPrice, profile.Stages, profile.TrailingDistancePct)
		pos.ApplyFill(price, pos.FirstTrancheFraction, now)
		pos.Status = pos.EntryStatus()
	case domain.EntryWaitForDip:
		// The real profile is rebuilt at the dip fill price; the rating is
		// computed now so operators see trade quality at signal time.
	}
}

func (s *Intake) persist(ctx context.Context, pos *domain.Position) {
	wctx := context.WithoutCancel(ctx)
	if err := s.repo.Upsert(wctx, *pos); err != nil {
		s.logger.Error("position upsert failed",
			slog.String("position_id", pos.ID),
			slog.Any("error", err),
		)
	}
	if err := s.accounts.SaveSnapshot(wctx, s.ledger.Snapshot()); err != nil {
		s.logger.Error("account snapshot failed", slog.Any("error", err))
	}
}

func (s *Intake) announce(ctx context.Context, pos *domain.Position, plan planner.Plan) {
	if s.notifier == nil {
		return
	}
	var event notify.Event
	var title, msg string
	if pos.Status != domain.PositionStatusWatching {
		event = notify.EventEntered
		title = "Position entered"
		msg = fmt.Sprintf("%s (%s) filled %.0f%% at %.8f, %.2f allocated, rating %s",
			pos.Symbol, plan.Strategy, pos.FilledFraction*100, pos.EntryPrice, pos.AllocatedCapital, pos.Rating)
	} else {
		event = notify.EventWatching
		title = "Watching for entry"
		msg = fmt.Sprintf("%s (%s) watching, %.2f reserved, window %s",
			pos.Symbol, plan.Strategy, pos.AllocatedCapital, pos.WaitWindow)
	}
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.Warn("notification failed", slog.Any("error", err))
	}
}

// PerformanceReport combines journal aggregates with the live account state.
type PerformanceReport struct {
	TotalTrades     int64
	WinningTrades   int64
	LosingTrades    int64
	WinRate         float64
	RealizedPnL     float64
	ActivePositions int
	Available       float64
}

// Performance summarizes closed-trade history and current account health.
func (s *Intake) Performance(ctx context.Context) (PerformanceReport, error) {
	sum, err := s.journal.Summary(ctx)
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("intake: journal summary: %w", err)
	}
	report := PerformanceReport{
		TotalTrades:     sum.TotalTrades,
		WinningTrades:   sum.WinningTrades,
		LosingTrades:    sum.LosingTrades,
		RealizedPnL:     sum.TotalPnL,
		ActivePositions: s.book.Len(),
		Available:       s.ledger.Available(),
	}
	if sum.TotalTrades > 0 {
		report.WinRate = float64(sum.WinningTrades) / float64(sum.TotalTrades)
	}
	return report, nil
}
