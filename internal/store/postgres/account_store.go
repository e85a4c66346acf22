package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantafe/tokensentry/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Snapshots are
// append-only; the latest row is the restore point.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// SaveSnapshot appends one ledger snapshot.
func (s *AccountStore) SaveSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	const query = `
		INSERT INTO account_snapshots (total_capital, available_capital, realized_pnl_total, taken_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query,
		snap.TotalCapital, snap.AvailableCapital, snap.RealizedPnLTotal, snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save account snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot, or domain.ErrNotFound when
// the account has never been persisted.
func (s *AccountStore) LatestSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	const query = `
		SELECT total_capital, available_capital, realized_pnl_total, taken_at
		FROM account_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT 1`

	var snap domain.AccountSnapshot
	err := s.pool.QueryRow(ctx, query).Scan(
		&snap.TotalCapital, &snap.AvailableCapital, &snap.RealizedPnLTotal, &snap.TakenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("postgres: latest account snapshot: %w", err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
