package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantafe/tokensentry/internal/domain"
)

// PositionStore implements domain.PositionRepository using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, asset_id, symbol, status, entry_strategy,
	confidence, risk_score, category, dev_risk, volatility_multiplier, rating,
	allocated_capital, filled_fraction, remainder_released,
	wait_window_ns, dip_trigger_pct, first_tranche_fraction, confirm_hold_ns,
	reference_price, peak_since_watch, above_entry_since,
	entry_price, base_stop_loss_pct, stop_loss_pct, stop_loss_price, stages, remaining_exit_fraction,
	trailing_active, trailing_distance_pct, trailing_stop_price, peak_price,
	current_price, highest_price, lowest_price, max_drawdown, unrealized_pnl, realized_pnl, partial_exits,
	watch_started_at, opened_at, closed_at, exit_reason`

// Upsert writes the full position state, inserting or replacing by ID.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	stages, err := json.Marshal(p.Stages)
	if err != nil {
		return fmt.Errorf("postgres: marshal stages for %s: %w", p.ID, err)
	}
	partials, err := json.Marshal(p.PartialExits)
	if err != nil {
		return fmt.Errorf("postgres: marshal partial exits for %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, asset_id, symbol, status, entry_strategy,
			confidence, risk_score, category, dev_risk, volatility_multiplier, rating,
			allocated_capital, filled_fraction, remainder_released,
			wait_window_ns, dip_trigger_pct, first_tranche_fraction, confirm_hold_ns,
			reference_price, peak_since_watch, above_entry_since,
			entry_price, base_stop_loss_pct, stop_loss_pct, stop_loss_price, stages, remaining_exit_fraction,
			trailing_active, trailing_distance_pct, trailing_stop_price, peak_price,
			current_price, highest_price, lowest_price, max_drawdown, unrealized_pnl, realized_pnl, partial_exits,
			watch_started_at, opened_at, closed_at, exit_reason, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21,
			$22, $23, $24, $25, $26, $27,
			$28, $29, $30, $31,
			$32, $33, $34, $35, $36, $37, $38,
			$39, $40, $41, $42, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filled_fraction = EXCLUDED.filled_fraction,
			remainder_released = EXCLUDED.remainder_released,
			reference_price = EXCLUDED.reference_price,
			peak_since_watch = EXCLUDED.peak_since_watch,
			above_entry_since = EXCLUDED.above_entry_since,
			entry_price = EXCLUDED.entry_price,
			base_stop_loss_pct = EXCLUDED.base_stop_loss_pct,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			stop_loss_price = EXCLUDED.stop_loss_price,
			stages = EXCLUDED.stages,
			remaining_exit_fraction = EXCLUDED.remaining_exit_fraction,
			trailing_active = EXCLUDED.trailing_active,
			trailing_distance_pct = EXCLUDED.trailing_distance_pct,
			trailing_stop_price = EXCLUDED.trailing_stop_price,
			peak_price = EXCLUDED.peak_price,
			current_price = EXCLUDED.current_price,
			highest_price = EXCLUDED.highest_price,
			lowest_price = EXCLUDED.lowest_price,
			max_drawdown = EXCLUDED.max_drawdown,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			partial_exits = EXCLUDED.partial_exits,
			rating = EXCLUDED.rating,
			opened_at = EXCLUDED.opened_at,
			closed_at = EXCLUDED.closed_at,
			exit_reason = EXCLUDED.exit_reason,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.AssetID, p.Symbol, string(p.Status), string(p.EntryStrategy),
		string(p.Confidence), p.RiskScore, string(p.Category), string(p.DevRisk), p.VolatilityMultiplier, string(p.Rating),
		p.AllocatedCapital, p.FilledFraction, p.RemainderReleased,
		int64(p.WaitWindow), p.DipTriggerPct, p.FirstTrancheFraction, int64(p.ConfirmHold),
		p.ReferencePrice, p.PeakSinceWatch, nullableTime(p.AboveEntrySince),
		p.EntryPrice, p.BaseStopLossPct, p.StopLossPct, p.StopLossPrice, stages, p.RemainingExitFraction,
		p.TrailingActive, p.TrailingDistancePct, p.TrailingStopPrice, p.PeakPrice,
		p.CurrentPrice, p.HighestPrice, p.LowestPrice, p.MaxDrawdown, p.UnrealizedPnL, p.RealizedPnL, partials,
		p.WatchStartedAt, nullableTime(p.OpenedAt), p.ClosedAt, p.ExitReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// LoadActive returns every non-terminal position. A row that fails to decode
// is an error: silently dropping a capital-bearing position is worse than
// refusing to start.
func (s *PositionStore) LoadActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + `
		FROM positions
		WHERE status NOT IN ('closed', 'expired')
		ORDER BY watch_started_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load active positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load active positions: %w", err)
	}
	return positions, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                            domain.Position
		status, strategy             string
		confidence, category, dev    string
		rating                       string
		waitNS, confirmNS            int64
		aboveSince, openedAt         *time.Time
		stagesRaw, partialsRaw       []byte
	)

	err := row.Scan(
		&p.ID, &p.AssetID, &p.Symbol, &status, &strategy,
		&confidence, &p.RiskScore, &category, &dev, &p.VolatilityMultiplier, &rating,
		&p.AllocatedCapital, &p.FilledFraction, &p.RemainderReleased,
		&waitNS, &p.DipTriggerPct, &p.FirstTrancheFraction, &confirmNS,
		&p.ReferencePrice, &p.PeakSinceWatch, &aboveSince,
		&p.EntryPrice, &p.BaseStopLossPct, &p.StopLossPct, &p.StopLossPrice, &stagesRaw, &p.RemainingExitFraction,
		&p.TrailingActive, &p.TrailingDistancePct, &p.TrailingStopPrice, &p.PeakPrice,
		&p.CurrentPrice, &p.HighestPrice, &p.LowestPrice, &p.MaxDrawdown, &p.UnrealizedPnL, &p.RealizedPnL, &partialsRaw,
		&p.WatchStartedAt, &openedAt, &p.ClosedAt, &p.ExitReason,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Status = domain.PositionStatus(status)
	p.EntryStrategy = domain.EntryStrategy(strategy)
	p.Confidence = domain.Confidence(confidence)
	p.Category = domain.TokenCategory(category)
	p.DevRisk = domain.DevRisk(dev)
	p.Rating = domain.Rating(rating)
	p.WaitWindow = time.Duration(waitNS)
	p.ConfirmHold = time.Duration(confirmNS)
	if aboveSince != nil {
		p.AboveEntrySince = *aboveSince
	}
	if openedAt != nil {
		p.OpenedAt = *openedAt
	}

	if err := json.Unmarshal(stagesRaw, &p.Stages); err != nil {
		return domain.Position{}, fmt.Errorf("decode stages: %w", err)
	}
	if err := json.Unmarshal(partialsRaw, &p.PartialExits); err != nil {
		return domain.Position{}, fmt.Errorf("decode partial exits: %w", err)
	}
	return p, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.PositionRepository = (*PositionStore)(nil)
