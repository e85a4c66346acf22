package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantafe/tokensentry/internal/book"
	"github.com/quantafe/tokensentry/internal/domain"
	"github.com/quantafe/tokensentry/internal/ledger"
	"github.com/quantafe/tokensentry/internal/risk"
)

type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *fakeFeed) set(assetID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[assetID] = price
}

func (f *fakeFeed) CurrentPrice(_ context.Context, assetID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[assetID]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	upserts map[string]domain.Position
}

func (r *fakeRepo) Upsert(_ context.Context, pos domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts[pos.ID] = pos
	return nil
}

func (r *fakeRepo) LoadActive(context.Context) ([]domain.Position, error) {
	return nil, nil
}

type fakeJournal struct {
	mu     sync.Mutex
	trades []domain.ClosedTrade
}

func (j *fakeJournal) Append(_ context.Context, trade domain.ClosedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, trade)
	return nil
}

func (j *fakeJournal) ListBefore(context.Context, time.Time) ([]domain.ClosedTrade, error) {
	return nil, nil
}

func (j *fakeJournal) Summary(context.Context) (domain.JournalSummary, error) {
	return domain.JournalSummary{}, nil
}

type fakeAccounts struct {
	mu    sync.Mutex
	snaps []domain.AccountSnapshot
}

func (a *fakeAccounts) SaveSnapshot(_ context.Context, snap domain.AccountSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
	return nil
}

func (a *fakeAccounts) LatestSnapshot(context.Context) (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{}, domain.ErrNotFound
}

type harness struct {
	mon     *Monitor
	book    *book.Book
	ledger  *ledger.Ledger
	feed    *fakeFeed
	repo    *fakeRepo
	journal *fakeJournal
	clock   *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bk := book.New(logger)
	led := ledger.New(10_000, logger)
	feed := &fakeFeed{prices: map[string]float64{}}
	repo := &fakeRepo{upserts: map[string]domain.Position{}}
	journal := &fakeJournal{}
	accounts := &fakeAccounts{}

	mon := New(
		Config{Interval: time.Second, FetchConcurrency: 4},
		bk,
		risk.New(risk.DefaultParams()),
		led,
		feed,
		repo,
		journal,
		accounts,
		nil,
		NewMetrics(prometheus.NewRegistry()),
		logger,
	)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &start
	mon.now = func() time.Time { return *clock }

	return &harness{mon: mon, book: bk, ledger: led, feed: feed, repo: repo, journal: journal, clock: clock}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mon.Tick(context.Background()))
}

func (h *harness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

// watch creates a position in its pre-fill state, with capital authorized,
// and registers it with the book.
func (h *harness) watch(t *testing.T, strategy domain.EntryStrategy, capital float64) *domain.Position {
	t.Helper()
	pos := &domain.Position{
		ID:                   "pos-1",
		AssetID:              "asset-1",
		Symbol:               "DEGEN",
		Status:               domain.PositionStatusWatching,
		EntryStrategy:        strategy,
		Confidence:           domain.ConfidenceMedium,
		RiskScore:            5,
		Category:             domain.CategoryMeme,
		DevRisk:              domain.DevRiskLow,
		VolatilityMultiplier: 1.0,
		AllocatedCapital:     capital,
		WatchStartedAt:       *h.clock,
	}
	switch strategy {
	case domain.EntryImmediate:
		pos.WaitWindow = 30 * time.Minute
	case domain.EntryWaitForDip:
		pos.WaitWindow = 6 * time.Hour
		pos.DipTriggerPct = 0.05
	case domain.EntryLadder:
		pos.WaitWindow = 2 * time.Hour
		pos.FirstTrancheFraction = 0.5
		pos.ConfirmHold = 15 * time.Minute
	}
	require.NoError(t, h.ledger.Authorize(capital))
	require.NoError(t, h.book.Open(pos))
	return pos
}

// open fills an immediate position at the given price and returns it.
func (h *harness) open(t *testing.T, entryPrice float64) *domain.Position {
	t.Helper()
	pos := h.watch(t, domain.EntryImmediate, 1000)
	h.feed.set(pos.AssetID, entryPrice)
	h.tick(t)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.Equal(t, entryPrice, pos.EntryPrice)
	return pos
}

func TestImmediateEntryInstallsRiskProfile(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)

	// MEDIUM risk bucket scaled by the meme category factor.
	assert.InDelta(t, 0.195, pos.StopLossPct, 1e-9)
	assert.InDelta(t, 0.000805, pos.StopLossPrice, 1e-9)
	assert.Len(t, pos.Stages, 3)
	assert.InDelta(t, 0.0015, pos.Stages[0].Price, 1e-12)
	assert.InDelta(t, 1.0, pos.RemainingExitFraction, 1e-9)
	assert.Equal(t, 1.0, pos.FilledFraction)
	assert.Equal(t, 0.20, pos.TrailingDistancePct)
}

func TestStopLossClosesPosition(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)

	h.feed.set(pos.AssetID, 0.0008)
	h.tick(t)

	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, "stop_loss", pos.ExitReason)
	assert.InDelta(t, -200, pos.RealizedPnL, 1e-9)
	// 9000 free after authorization, plus 800 of salvage proceeds.
	assert.InDelta(t, 9800, h.ledger.Available(), 1e-9)
	assert.Equal(t, 0, h.book.Len())
	require.Len(t, h.journal.trades, 1)
	assert.Equal(t, "stop_loss", h.journal.trades[0].ExitReason)
}

func TestFirstStageExecutesOnceAndActivatesTrailing(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)

	h.feed.set(pos.AssetID, 0.0015)
	h.tick(t)

	require.Len(t, pos.PartialExits, 1)
	assert.True(t, pos.Stages[0].Executed)
	assert.InDelta(t, 0.7, pos.RemainingExitFraction, 1e-9)
	assert.InDelta(t, 150, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 9450, h.ledger.Available(), 1e-9)
	// +50% clears the +30% trailing activation threshold.
	assert.True(t, pos.TrailingActive)
	assert.InDelta(t, 0.0012, pos.TrailingStopPrice, 1e-12)

	// Same price again: the executed stage must not re-fire.
	h.tick(t)
	assert.Len(t, pos.PartialExits, 1)
	assert.InDelta(t, 150, pos.RealizedPnL, 1e-9)
}

func TestGapThroughAllStagesClosesRemainder(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)

	h.feed.set(pos.AssetID, 0.0035)
	h.tick(t)

	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, "all_targets_hit", pos.ExitReason)
	assert.Len(t, pos.PartialExits, 3)
	// Full exit at +250% on 1000 of capital.
	assert.InDelta(t, 2500, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 12_500, h.ledger.Available(), 1e-9)
	assert.Equal(t, 0, h.book.Len())
}

func TestTrailingStopRatchetsAndCloses(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)

	h.feed.set(pos.AssetID, 0.0014)
	h.tick(t)
	require.True(t, pos.TrailingActive)
	assert.InDelta(t, 0.00112, pos.TrailingStopPrice, 1e-12)

	h.feed.set(pos.AssetID, 0.00145)
	h.tick(t)
	assert.InDelta(t, 0.00116, pos.TrailingStopPrice, 1e-12)

	// A dip above the stop must not loosen it.
	h.feed.set(pos.AssetID, 0.0012)
	h.tick(t)
	assert.InDelta(t, 0.00116, pos.TrailingStopPrice, 1e-12)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)

	h.feed.set(pos.AssetID, 0.00115)
	h.tick(t)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, "trailing_stop", pos.ExitReason)
	// 15% gain on the full position.
	assert.InDelta(t, 150, pos.RealizedPnL, 1e-9)
}

func TestTimeDecayTightensStop(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)
	base := pos.StopLossPct

	h.advance(3 * 24 * time.Hour)
	h.feed.set(pos.AssetID, 0.001)
	h.tick(t)

	assert.InDelta(t, base*0.9*0.9*0.9, pos.StopLossPct, 1e-9)
	assert.Greater(t, pos.StopLossPrice, 0.000805)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
}

func TestDipWatchFillsOnPullback(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryWaitForDip, 1000)

	h.feed.set(pos.AssetID, 0.0010)
	h.tick(t)
	require.Equal(t, domain.PositionStatusWatching, pos.Status)

	h.feed.set(pos.AssetID, 0.0012)
	h.tick(t)
	require.Equal(t, domain.PositionStatusWatching, pos.Status)
	assert.Equal(t, 0.0012, pos.PeakSinceWatch)

	// 5% off the post-watch peak triggers the fill.
	h.feed.set(pos.AssetID, 0.00114)
	h.tick(t)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 0.00114, pos.EntryPrice)
}

func TestDipWatchExpiresWithFullRefund(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryWaitForDip, 1000)
	require.InDelta(t, 9000, h.ledger.Available(), 1e-9)

	h.feed.set(pos.AssetID, 0.0010)
	h.advance(7 * time.Hour)
	h.tick(t)

	assert.Equal(t, domain.PositionStatusExpired, pos.Status)
	assert.Equal(t, "entry_window_expired", pos.ExitReason)
	assert.InDelta(t, 10_000, h.ledger.Available(), 1e-9)
	assert.Equal(t, 0, h.book.Len())
	require.Len(t, h.journal.trades, 1)
	assert.Equal(t, domain.PositionStatusExpired, h.journal.trades[0].Status)
}

func TestLadderConfirmsAndFillsRemainder(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryLadder, 1000)

	h.feed.set(pos.AssetID, 0.001)
	h.tick(t)
	require.Equal(t, domain.PositionStatusEntering, pos.Status)
	require.Equal(t, 0.5, pos.FilledFraction)
	assert.InDelta(t, 500, pos.EffectiveCapital(), 1e-9)

	// Price holds above entry for the confirmation window.
	h.advance(time.Minute)
	h.feed.set(pos.AssetID, 0.00101)
	h.tick(t)
	require.False(t, pos.AboveEntrySince.IsZero())

	h.advance(15 * time.Minute)
	h.tick(t)
	assert.Equal(t, 1.0, pos.FilledFraction)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	// Cost basis stays at the first tranche price.
	assert.Equal(t, 0.001, pos.EntryPrice)
}

func TestLadderConfirmationResetsOnDip(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryLadder, 1000)

	h.feed.set(pos.AssetID, 0.001)
	h.tick(t)

	h.advance(time.Minute)
	h.feed.set(pos.AssetID, 0.00101)
	h.tick(t)
	require.False(t, pos.AboveEntrySince.IsZero())

	h.advance(5 * time.Minute)
	h.feed.set(pos.AssetID, 0.00099)
	h.tick(t)
	assert.True(t, pos.AboveEntrySince.IsZero())
	assert.Equal(t, 0.5, pos.FilledFraction)
}

func TestLadderWindowLapsesAndReleasesRemainder(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryLadder, 1000)

	h.feed.set(pos.AssetID, 0.001)
	h.tick(t)
	require.InDelta(t, 9000, h.ledger.Available(), 1e-9)

	h.advance(3 * time.Hour)
	h.feed.set(pos.AssetID, 0.00099)
	h.tick(t)

	assert.True(t, pos.RemainderReleased)
	assert.Equal(t, 0.5, pos.FilledFraction)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.InDelta(t, 9500, h.ledger.Available(), 1e-9)
}

func TestStopLossOnPartialLadderReturnsUnfilledCapital(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryLadder, 1000)

	h.feed.set(pos.AssetID, 0.001)
	h.tick(t)
	require.Equal(t, 0.5, pos.FilledFraction)

	h.feed.set(pos.AssetID, 0.0008)
	h.tick(t)

	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	// Half the stake at -20% plus the untouched half of the allocation.
	assert.InDelta(t, -100, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 9900, h.ledger.Available(), 1e-9)
}

func TestUnpricedAssetIsSkippedForTheTick(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)

	h.feed.mu.Lock()
	delete(h.feed.prices, pos.AssetID)
	h.feed.mu.Unlock()
	h.advance(time.Hour)
	h.tick(t)

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 0.001, pos.CurrentPrice)
	assert.Empty(t, pos.PartialExits)
}

func TestWatchExpiresWithoutPriceData(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryWaitForDip, 1000)
	require.InDelta(t, 9000, h.ledger.Available(), 1e-9)

	// The feed never prices the asset; the window lapses on the clock alone.
	h.advance(7 * time.Hour)
	h.tick(t)

	assert.Equal(t, domain.PositionStatusExpired, pos.Status)
	assert.Equal(t, "entry_window_expired", pos.ExitReason)
	assert.InDelta(t, 10_000, h.ledger.Available(), 1e-9)
	assert.Equal(t, 0, h.book.Len())
	require.Len(t, h.journal.trades, 1)
	assert.Equal(t, domain.PositionStatusExpired, h.journal.trades[0].Status)
}

func TestUnpricedWatchInsideWindowStaysReserved(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryWaitForDip, 1000)

	h.advance(time.Hour)
	h.tick(t)

	assert.Equal(t, domain.PositionStatusWatching, pos.Status)
	assert.InDelta(t, 9000, h.ledger.Available(), 1e-9)
	assert.Equal(t, 1, h.book.Len())
}

func TestEnteringLadderReleasesRemainderWithoutPriceData(t *testing.T) {
	h := newHarness(t)
	pos := h.watch(t, domain.EntryLadder, 1000)

	h.feed.set(pos.AssetID, 0.001)
	h.tick(t)
	require.Equal(t, domain.PositionStatusEntering, pos.Status)

	h.feed.mu.Lock()
	delete(h.feed.prices, pos.AssetID)
	h.feed.mu.Unlock()
	h.advance(3 * time.Hour)
	h.tick(t)

	assert.True(t, pos.RemainderReleased)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 0.5, pos.FilledFraction)
	assert.InDelta(t, 9500, h.ledger.Available(), 1e-9)
}

func TestStatusReadsDuringTickAreSynchronized(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)
	h.feed.set(pos.AssetID, 0.0008)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.book.HasActive(pos.AssetID)
			h.book.ActiveAssetIDs()
		}
	}()
	h.tick(t)
	<-done

	assert.False(t, h.book.HasActive(pos.AssetID))
}

func TestTerminalPositionIsPersistedAndJournaled(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 0.001)

	h.feed.set(pos.AssetID, 0.0008)
	h.tick(t)

	stored, ok := h.repo.upserts[pos.ID]
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.Len(t, h.journal.trades, 1)
	assert.Equal(t, pos.ID, h.journal.trades[0].PositionID)
	assert.InDelta(t, pos.RealizedPnL, h.journal.trades[0].RealizedPnL, 1e-9)
}
