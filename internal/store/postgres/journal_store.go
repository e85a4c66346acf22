package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantafe/tokensentry/internal/domain"
)

// JournalStore implements domain.TradeJournal using PostgreSQL. The trades
// table is append-only; rows are written once when a position terminates.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append records one closed trade.
func (s *JournalStore) Append(ctx context.Context, t domain.ClosedTrade) error {
	const query = `
		INSERT INTO trades (
			position_id, asset_id, symbol, entry_strategy, status,
			entry_price, exit_price, allocated_capital, filled_fraction,
			realized_pnl, max_drawdown, exit_reason, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		t.PositionID, t.AssetID, t.Symbol, string(t.EntryStrategy), string(t.Status),
		t.EntryPrice, t.ExitPrice, t.AllocatedCapital, t.FilledFraction,
		t.RealizedPnL, t.MaxDrawdown, t.ExitReason, nullableTime(t.OpenedAt), t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", t.PositionID, err)
	}
	return nil
}

// ListBefore returns journal rows closed strictly before the cutoff, oldest
// first, for cold-storage archival.
func (s *JournalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	const query = `
		SELECT position_id, asset_id, symbol, entry_strategy, status,
			entry_price, exit_price, allocated_capital, filled_fraction,
			realized_pnl, max_drawdown, exit_reason, opened_at, closed_at
		FROM trades
		WHERE closed_at < $1
		ORDER BY closed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	var trades []domain.ClosedTrade
	for rows.Next() {
		var (
			t                domain.ClosedTrade
			strategy, status string
			openedAt         *time.Time
		)
		if err := rows.Scan(
			&t.PositionID, &t.AssetID, &t.Symbol, &strategy, &status,
			&t.EntryPrice, &t.ExitPrice, &t.AllocatedCapital, &t.FilledFraction,
			&t.RealizedPnL, &t.MaxDrawdown, &t.ExitReason, &openedAt, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.EntryStrategy = domain.EntryStrategy(strategy)
		t.Status = domain.PositionStatus(status)
		if openedAt != nil {
			t.OpenedAt = *openedAt
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	return trades, nil
}

// Summary aggregates the whole journal.
func (s *JournalStore) Summary(ctx context.Context) (domain.JournalSummary, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE realized_pnl > 0),
			COUNT(*) FILTER (WHERE realized_pnl < 0),
			COALESCE(SUM(realized_pnl), 0)
		FROM trades`

	var sum domain.JournalSummary
	err := s.pool.QueryRow(ctx, query).Scan(
		&sum.TotalTrades, &sum.WinningTrades, &sum.LosingTrades, &sum.TotalPnL,
	)
	if err != nil {
		return domain.JournalSummary{}, fmt.Errorf("postgres: journal summary: %w", err)
	}
	return sum, nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*JournalStore)(nil)
