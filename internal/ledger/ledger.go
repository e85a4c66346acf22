// Package ledger owns the portfolio account: available capital and realized
// PnL. Every allocation and every settlement flows through here, making the
// ledger the single serialization point for capital mutations.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantafe/tokensentry/internal/domain"
)

// Ledger tracks available capital and realized PnL. It is safe for
// concurrent use; all mutations hold the internal mutex.
type Ledger struct {
	mu        sync.Mutex
	total     float64
	available float64
	realized  float64
	logger    *slog.Logger
}

// New creates a Ledger with the given starting capital fully available.
func New(startingCapital float64, logger *slog.Logger) *Ledger {
	return &Ledger{
		total:     startingCapital,
		available: startingCapital,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Authorize reserves amount for a new position. It returns
// domain.ErrInsufficientCapital without mutating anything when the available
// balance cannot cover the request.
func (l *Ledger) Authorize(amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount <= 0 || amount > l.available {
		l.logger.Warn("authorization refused",
			slog.Float64("requested", amount),
			slog.Float64("available", l.available),
		)
		return domain.ErrInsufficientCapital
	}

	l.available -= amount
	l.logger.Debug("capital authorized",
		slog.Float64("amount", amount),
		slog.Float64("available", l.available),
	)
	return nil
}

// Settle returns realized proceeds to the available balance and accumulates
// the PnL component. Proceeds include the cost basis of the settled
// fraction; pnl is only the gain or loss. Settle always succeeds; callers
// are responsible for settling each exit exactly once (the position's
// write-once stage flags enforce this upstream).
func (l *Ledger) Settle(proceeds, pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.available += proceeds
	l.realized += pnl
	l.logger.Debug("settlement applied",
		slog.Float64("proceeds", proceeds),
		slog.Float64("pnl", pnl),
		slog.Float64("available", l.available),
		slog.Float64("realized_total", l.realized),
	)
}

// Available returns the capital currently free to allocate.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// RealizedPnL returns cumulative realized PnL.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

// Snapshot returns a point-in-time copy of the account for persistence.
func (l *Ledger) Snapshot() domain.AccountSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.AccountSnapshot{
		TotalCapital:     l.total,
		AvailableCapital: l.available,
		RealizedPnLTotal: l.realized,
		TakenAt:          time.Now().UTC(),
	}
}

// Restore overwrites the account from a persisted snapshot. Used once at
// startup, before the monitor runs.
func (l *Ledger) Restore(snap domain.AccountSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = snap.TotalCapital
	l.available = snap.AvailableCapital
	l.realized = snap.RealizedPnLTotal
	l.logger.Info("ledger restored from snapshot",
		slog.Float64("total", l.total),
		slog.Float64("available", l.available),
		slog.Float64("realized", l.realized),
		slog.Time("taken_at", snap.TakenAt),
	)
}
