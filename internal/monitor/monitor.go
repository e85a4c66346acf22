// Package monitor runs the position lifecycle: it prices every tracked
// position on a fixed interval and applies entry fills, stop-losses, staged
// take-profits, trailing stops and time-decay tightening in a deterministic
// order. Price fetches run concurrently; transitions apply sequentially so a
// tick is reproducible from its price snapshot.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantafe/tokensentry/internal/book"
	"github.com/quantafe/tokensentry/internal/domain"
	"github.com/quantafe/tokensentry/internal/ledger"
	"github.com/quantafe/tokensentry/internal/notify"
	"github.com/quantafe/tokensentry/internal/risk"
)

// Transition labels for metrics and logs.
const (
	transitionEntered           = "entered"
	transitionExpired           = "expired"
	transitionStageHit          = "stage_hit"
	transitionStopLoss          = "stop_loss"
	transitionTrailingStop      = "trailing_stop"
	transitionAllTargets        = "all_targets_hit"
	transitionDecayTightened    = "decay_tightened"
	transitionRemainderReleased = "remainder_released"
)

// Config holds the monitor loop settings.
type Config struct {
	Interval         time.Duration
	FetchConcurrency int
}

// Monitor owns the tick loop over the position book.
type Monitor struct {
	cfg      Config
	book     *book.Book
	calc     *risk.Calculator
	ledger   *ledger.Ledger
	feed     domain.PriceFeed
	repo     domain.PositionRepository
	journal  domain.TradeJournal
	accounts domain.AccountStore
	notifier *notify.Notifier
	metrics  *Metrics
	logger   *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// New creates a Monitor.
func New(
	cfg Config,
	bk *book.Book,
	calc *risk.Calculator,
	led *ledger.Ledger,
	feed domain.PriceFeed,
	repo domain.PositionRepository,
	journal domain.TradeJournal,
	accounts domain.AccountStore,
	notifier *notify.Notifier,
	metrics *Metrics,
	logger *slog.Logger,
) *Monitor {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	return &Monitor{
		cfg:      cfg,
		book:     bk,
		calc:     calc,
		ledger:   led,
		feed:     feed,
		repo:     repo,
		journal:  journal,
		accounts: accounts,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "monitor")),
		now:      time.Now,
	}
}

// Run ticks until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", slog.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("tick failed", slog.Any("error", err))
			}
		}
	}
}

// Tick prices every active position and applies due transitions. A position
// whose price cannot be fetched gets only its clock-driven transitions
// (entry-window expiry, ladder remainder release); its price-dependent state
// is never mutated on stale data.
func (m *Monitor) Tick(ctx context.Context) error {
	started := m.now()
	positions := m.book.Active()
	if len(positions) == 0 {
		m.metrics.Ticks.Inc()
		m.observe(started)
		return nil
	}

	prices := m.fetchPrices(ctx, positions)

	dirty := false
	for _, pos := range positions {
		price, ok := prices[pos.AssetID]
		if !ok {
			if m.reapUnpriced(ctx, pos) {
				dirty = true
			}
			continue
		}
		if err := m.evaluate(ctx, pos, price); err != nil {
			m.logger.Error("evaluate position failed",
				slog.String("asset_id", pos.AssetID),
				slog.Any("error", err),
			)
		}
		dirty = true
		m.persistPosition(ctx, pos)
	}

	if dirty {
		m.persistAccount(ctx)
	}
	m.metrics.Ticks.Inc()
	m.metrics.OpenPositions.Set(float64(m.book.Len()))
	m.metrics.AvailableCapital.Set(m.ledger.Available())
	m.metrics.RealizedPnL.Set(m.ledger.RealizedPnL())
	m.observe(started)
	return nil
}

func (m *Monitor) observe(started time.Time) {
	m.metrics.TickDuration.Observe(m.now().Sub(started).Seconds())
}

// fetchPrices resolves current prices for all positions with bounded
// concurrency. Failures are counted and the asset omitted from the result.
func (m *Monitor) fetchPrices(ctx context.Context, positions []*domain.Position) map[string]float64 {
	type quote struct {
		assetID string
		price   float64
	}

	results := make(chan quote, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FetchConcurrency)

	for _, pos := range positions {
		assetID := pos.AssetID
		g.Go(func() error {
			price, err := m.feed.CurrentPrice(gctx, assetID)
			if err != nil {
				m.metrics.PriceFetchFailures.Inc()
				if !errors.Is(err, domain.ErrPriceUnavailable) {
					m.logger.Warn("price fetch failed",
						slog.String("asset_id", assetID),
						slog.Any("error", err),
					)
				}
				return nil
			}
			results <- quote{assetID: assetID, price: price}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	prices := make(map[string]float64, len(positions))
	for q := range results {
		prices[q.assetID] = q.price
	}
	return prices
}

// evaluate applies transitions for one position at one observed price, in
// fixed order: entry handling, stop-loss, take-profit stages, trailing stop,
// time decay. A close ends evaluation for the tick.
func (m *Monitor) evaluate(ctx context.Context, pos *domain.Position, price float64) error {
	now := m.now()

	switch pos.Status {
	case domain.PositionStatusWatching:
		return m.evaluateWatch(ctx, pos, price, now)
	case domain.PositionStatusEntering, domain.PositionStatusOpen:
		// fall through below
	default:
		return nil
	}

	pos.MarkPrice(price)

	if pos.Status == domain.PositionStatusEntering {
		m.advanceLadder(ctx, pos, price, now)
	}

	if closed, err := m.checkStopLoss(ctx, pos, price, now); closed || err != nil {
		return err
	}
	if closed, err := m.checkStages(ctx, pos, price, now); closed || err != nil {
		return err
	}
	if closed, err := m.checkTrailing(ctx, pos, price, now); closed || err != nil {
		return err
	}
	m.applyDecay(pos, now)
	return nil
}

// reapUnpriced applies the transitions that need no price: an entry window
// lapses on the clock alone, so a position whose feed has gone dark (a dead
// or delisted token) still releases its reserved capital. Returns whether
// the position changed.
func (m *Monitor) reapUnpriced(ctx context.Context, pos *domain.Position) bool {
	now := m.now()
	if now.Sub(pos.WatchStartedAt) <= pos.WaitWindow {
		return false
	}
	switch pos.Status {
	case domain.PositionStatusWatching:
		if err := m.expire(ctx, pos, pos.CurrentPrice, now); err != nil {
			m.logger.Error("expire unpriced position failed",
				slog.String("asset_id", pos.AssetID),
				slog.Any("error", err),
			)
		}
		return true
	case domain.PositionStatusEntering:
		m.releaseRemainder(pos)
		m.persistPosition(ctx, pos)
		return true
	}
	return false
}

// evaluateWatch handles positions that have not filled at all yet: a dip
// watch, or an immediate entry whose intake tick had no price.
func (m *Monitor) evaluateWatch(ctx context.Context, pos *domain.Position, price float64, now time.Time) error {
	pos.CurrentPrice = price
	if price > pos.PeakSinceWatch {
		pos.PeakSinceWatch = price
	}

	if now.Sub(pos.WatchStartedAt) > pos.WaitWindow {
		return m.expire(ctx, pos, price, now)
	}

	switch pos.EntryStrategy {
	case domain.EntryImmediate:
		m.fill(ctx, pos, price, 1.0, now)
	case domain.EntryWaitForDip:
		if pos.PeakSinceWatch > 0 && price <= pos.PeakSinceWatch*(1-pos.DipTriggerPct) {
			m.fill(ctx, pos, price, 1.0, now)
		}
	case domain.EntryLadder:
		// Ladder positions fill their first tranche at intake; a ladder
		// seen here predates the first price and fills its tranche now.
		m.fill(ctx, pos, price, pos.FirstTrancheFraction, now)
	}
	return nil
}

// fill installs the risk profile on the first fill and records the tranche.
func (m *Monitor) fill(ctx context.Context, pos *domain.Position, price, fraction float64, now time.Time) {
	if pos.EntryPrice == 0 {
		profile := m.calc.BuildProfile(price, pos.AdvisorySnapshot())
		pos.ApplyRiskProfile(profile.StopLossPct, profile.StopLossPrice, profile.Stages, profile.TrailingDistancePct)
		pos.Rating = profile.Rating
	}
	pos.ApplyFill(price, fraction, now)
	m.book.Transition(pos, pos.EntryStatus())
	m.metrics.Transitions.WithLabelValues(transitionEntered).Inc()
	m.logger.Info("position entered",
		slog.String("asset_id", pos.AssetID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("price", price),
		slog.Float64("filled_fraction", pos.FilledFraction),
	)
	m.notify(ctx, notify.EventEntered, "Position entered",
		fmt.Sprintf("%s filled %.0f%% at %.8f (stop %.8f)", pos.Symbol, pos.FilledFraction*100, price, pos.StopLossPrice))
}

// advanceLadder fills the ladder remainder once the price has held above
// entry for the confirmation window, or releases the unfilled capital when
// the outer window lapses without confirmation.
func (m *Monitor) advanceLadder(ctx context.Context, pos *domain.Position, price float64, now time.Time) {
	if now.Sub(pos.WatchStartedAt) > pos.WaitWindow {
		m.releaseRemainder(pos)
		return
	}

	if price > pos.EntryPrice {
		if pos.AboveEntrySince.IsZero() {
			pos.AboveEntrySince = now
			return
		}
		if now.Sub(pos.AboveEntrySince) >= pos.ConfirmHold {
			m.fill(ctx, pos, price, 1-pos.FilledFraction, now)
		}
		return
	}
	// Confirmation requires continuous holding; any touch below resets it.
	pos.AboveEntrySince = time.Time{}
}

// releaseRemainder returns the unfilled ladder capital to the ledger once
// the entry window has lapsed, leaving the filled tranche OPEN.
func (m *Monitor) releaseRemainder(pos *domain.Position) {
	released := pos.UnfilledCapital()
	pos.RemainderReleased = true
	pos.AboveEntrySince = time.Time{}
	m.book.Transition(pos, domain.PositionStatusOpen)
	m.ledger.Settle(released, 0)
	m.metrics.Transitions.WithLabelValues(transitionRemainderReleased).Inc()
	m.logger.Info("ladder remainder released",
		slog.String("asset_id", pos.AssetID),
		slog.Float64("released", released),
	)
}

// checkStopLoss closes the remaining exposure when the price is at or below
// the current stop level.
func (m *Monitor) checkStopLoss(ctx context.Context, pos *domain.Position, price float64, now time.Time) (bool, error) {
	if price > pos.StopLossPrice {
		return false, nil
	}
	m.metrics.Transitions.WithLabelValues(transitionStopLoss).Inc()
	m.notify(ctx, notify.EventStopLoss, "Stop-loss hit",
		fmt.Sprintf("%s stopped out at %.8f (%.1f%%)", pos.Symbol, price, pos.GainAt(price)*100))
	return true, m.close(ctx, pos, price, now, "stop_loss")
}

// checkStages fires every take-profit stage whose threshold the price has
// reached. If the last stage fires, the trailing remainder is closed at the
// same price.
func (m *Monitor) checkStages(ctx context.Context, pos *domain.Position, price float64, now time.Time) (bool, error) {
	fired := false
	for i := range pos.Stages {
		stage := &pos.Stages[i]
		if stage.Executed || price < stage.Price {
			continue
		}
		m.executeStage(ctx, pos, stage, price, now)
		fired = true
	}
	if !fired {
		return false, nil
	}

	for i := range pos.Stages {
		if !pos.Stages[i].Executed {
			return false, nil
		}
	}
	m.metrics.Transitions.WithLabelValues(transitionAllTargets).Inc()
	return true, m.close(ctx, pos, price, now, "all_targets_hit")
}

// executeStage settles one stage: the stage fraction of the effective
// capital exits at the observed price.
func (m *Monitor) executeStage(ctx context.Context, pos *domain.Position, stage *domain.TakeProfitStage, price float64, now time.Time) {
	proceeds := pos.EffectiveCapital() * stage.ExitFraction * (price / pos.EntryPrice)
	pnl := pos.EffectiveCapital() * stage.ExitFraction * pos.GainAt(price)

	stage.Executed = true
	at := now
	stage.ExecutedAt = &at
	pos.RemainingExitFraction -= stage.ExitFraction
	if pos.RemainingExitFraction < 0 {
		pos.RemainingExitFraction = 0
	}
	pos.RealizedPnL += pnl
	pos.PartialExits = append(pos.PartialExits, domain.PartialExit{
		Stage:    stage.Name,
		Price:    price,
		Fraction: stage.ExitFraction,
		PnL:      pnl,
		At:       now,
	})
	m.ledger.Settle(proceeds, pnl)

	m.metrics.Transitions.WithLabelValues(transitionStageHit).Inc()
	m.logger.Info("take-profit stage executed",
		slog.String("asset_id", pos.AssetID),
		slog.String("stage", stage.Name),
		slog.Float64("price", price),
		slog.Float64("pnl", pnl),
	)
	m.notify(ctx, notify.EventStageHit, "Take-profit stage hit",
		fmt.Sprintf("%s %s at %.8f, sold %.0f%% for %+.2f", pos.Symbol, stage.Name, price, stage.ExitFraction*100, pnl))
}

// checkTrailing activates, ratchets and enforces the trailing stop on the
// remaining fraction.
func (m *Monitor) checkTrailing(ctx context.Context, pos *domain.Position, price float64, now time.Time) (bool, error) {
	if !pos.TrailingActive {
		if !m.calc.ShouldActivateTrailing(pos.EntryPrice, price) {
			return false, nil
		}
		pos.TrailingActive = true
		pos.PeakPrice = price
		pos.TrailingStopPrice = risk.TrailingStopPrice(price, pos.TrailingDistancePct)
		m.logger.Info("trailing stop activated",
			slog.String("asset_id", pos.AssetID),
			slog.Float64("peak", pos.PeakPrice),
			slog.Float64("stop", pos.TrailingStopPrice),
		)
		return false, nil
	}

	// The peak only ratchets up, so the stop never loosens.
	if price > pos.PeakPrice {
		pos.PeakPrice = price
		pos.TrailingStopPrice = risk.TrailingStopPrice(price, pos.TrailingDistancePct)
	}
	if price > pos.TrailingStopPrice {
		return false, nil
	}
	m.metrics.Transitions.WithLabelValues(transitionTrailingStop).Inc()
	m.notify(ctx, notify.EventTrailingStop, "Trailing stop hit",
		fmt.Sprintf("%s trailed out at %.8f from peak %.8f", pos.Symbol, price, pos.PeakPrice))
	return true, m.close(ctx, pos, price, now, "trailing_stop")
}

// applyDecay recomputes the time-decayed stop from the base distance and the
// entry timestamp. The stop distance only ever tightens.
func (m *Monitor) applyDecay(pos *domain.Position, now time.Time) {
	pct := m.calc.TimeDecayedStopLossPct(pos.BaseStopLossPct, pos.OpenedAt, now)
	if pct >= pos.StopLossPct {
		return
	}
	pos.StopLossPct = pct
	pos.StopLossPrice = risk.StopLossPrice(pos.EntryPrice, pct)
	m.metrics.Transitions.WithLabelValues(transitionDecayTightened).Inc()
	m.logger.Debug("stop-loss tightened by time decay",
		slog.String("asset_id", pos.AssetID),
		slog.Float64("stop_pct", pct),
		slog.Float64("stop_price", pos.StopLossPrice),
	)
}

// close settles the remaining exposure at the given price, returns any
// unfilled ladder capital, journals the trade and archives the position.
func (m *Monitor) close(ctx context.Context, pos *domain.Position, price float64, now time.Time, reason string) error {
	proceeds := pos.EffectiveCapital() * pos.RemainingExitFraction * (price / pos.EntryPrice)
	pnl := pos.EffectiveCapital() * pos.RemainingExitFraction * pos.GainAt(price)
	if !pos.RemainderReleased {
		proceeds += pos.UnfilledCapital()
		pos.RemainderReleased = true
	}

	pos.RemainingExitFraction = 0
	pos.RealizedPnL += pnl
	pos.CurrentPrice = price
	pos.UnrealizedPnL = 0
	pos.ClosedAt = &now
	pos.ExitReason = reason
	m.book.Transition(pos, domain.PositionStatusClosed)
	m.ledger.Settle(proceeds, pnl)

	m.logger.Info("position closed",
		slog.String("asset_id", pos.AssetID),
		slog.String("reason", reason),
		slog.Float64("exit_price", price),
		slog.Float64("realized_pnl", pos.RealizedPnL),
	)
	m.notify(ctx, notify.EventClosed, "Position closed",
		fmt.Sprintf("%s closed (%s) at %.8f, realized %+.2f", pos.Symbol, reason, price, pos.RealizedPnL))
	return m.finalize(ctx, pos, price, now)
}

// expire terminates a position that never filled inside its entry window and
// returns the full allocation.
func (m *Monitor) expire(ctx context.Context, pos *domain.Position, price float64, now time.Time) error {
	pos.RemainderReleased = true
	pos.ClosedAt = &now
	pos.ExitReason = "entry_window_expired"
	m.book.Transition(pos, domain.PositionStatusExpired)
	m.ledger.Settle(pos.AllocatedCapital, 0)

	m.metrics.Transitions.WithLabelValues(transitionExpired).Inc()
	m.logger.Info("entry window expired",
		slog.String("asset_id", pos.AssetID),
		slog.String("strategy", string(pos.EntryStrategy)),
	)
	m.notify(ctx, notify.EventExpired, "Entry window expired",
		fmt.Sprintf("%s never met its %s entry condition, allocation released", pos.Symbol, pos.EntryStrategy))
	return m.finalize(ctx, pos, price, now)
}

// finalize journals a terminal position and removes it from the book. The
// journal write survives caller cancellation: the trade already settled.
func (m *Monitor) finalize(ctx context.Context, pos *domain.Position, price float64, now time.Time) error {
	wctx := context.WithoutCancel(ctx)
	trade := domain.ClosedTrade{
		PositionID:       pos.ID,
		AssetID:          pos.AssetID,
		Symbol:           pos.Symbol,
		EntryStrategy:    pos.EntryStrategy,
		Status:           pos.Status,
		EntryPrice:       pos.EntryPrice,
		ExitPrice:        price,
		AllocatedCapital: pos.AllocatedCapital,
		FilledFraction:   pos.FilledFraction,
		RealizedPnL:      pos.RealizedPnL,
		MaxDrawdown:      pos.MaxDrawdown,
		ExitReason:       pos.ExitReason,
		OpenedAt:         pos.OpenedAt,
		ClosedAt:         now,
	}
	if err := m.journal.Append(wctx, trade); err != nil {
		m.logger.Error("journal append failed",
			slog.String("position_id", pos.ID),
			slog.Any("error", err),
		)
	}
	m.persistPosition(ctx, pos)
	if _, err := m.book.Archive(pos.AssetID); err != nil {
		return fmt.Errorf("monitor: archive position %s: %w", pos.AssetID, err)
	}
	return nil
}

// persistPosition writes the position through to the repository. The book
// stays authoritative, so a write failure is logged and retried implicitly
// on the next tick.
func (m *Monitor) persistPosition(ctx context.Context, pos *domain.Position) {
	wctx := context.WithoutCancel(ctx)
	if err := m.repo.Upsert(wctx, *pos); err != nil {
		m.logger.Error("position upsert failed",
			slog.String("position_id", pos.ID),
			slog.Any("error", err),
		)
	}
}

func (m *Monitor) persistAccount(ctx context.Context) {
	wctx := context.WithoutCancel(ctx)
	if err := m.accounts.SaveSnapshot(wctx, m.ledger.Snapshot()); err != nil {
		m.logger.Error("account snapshot failed", slog.Any("error", err))
	}
}

func (m *Monitor) notify(ctx context.Context, event notify.Event, title, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event, title, message); err != nil {
		m.logger.Warn("notification failed",
			slog.String("event", string(event)),
			slog.Any("error", err),
		)
	}
}
