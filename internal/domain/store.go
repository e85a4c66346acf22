package domain

import (
	"context"
	"io"
	"time"
)

// PositionRepository persists positions. The in-memory book is the source of
// truth during a run; the repository is a write-behind copy plus the restore
// source at startup.
type PositionRepository interface {
	// Upsert writes the full position state, inserting or replacing by ID.
	Upsert(ctx context.Context, pos Position) error
	// LoadActive returns every non-terminal position. A row that cannot be
	// decoded is an error, not a skip: silently dropping a capital-bearing
	// position is worse than refusing to start.
	LoadActive(ctx context.Context) ([]Position, error)
}

// JournalSummary aggregates the closed-trade journal.
type JournalSummary struct {
	TotalTrades   int64
	WinningTrades int64
	LosingTrades  int64
	TotalPnL      float64
}

// TradeJournal is the append-only record of terminal positions.
type TradeJournal interface {
	Append(ctx context.Context, trade ClosedTrade) error
	// ListBefore returns journal rows closed strictly before the cutoff,
	// for cold-storage archival.
	ListBefore(ctx context.Context, before time.Time) ([]ClosedTrade, error)
	Summary(ctx context.Context) (JournalSummary, error)
}

// AccountStore persists ledger snapshots.
type AccountStore interface {
	SaveSnapshot(ctx context.Context, snap AccountSnapshot) error
	// LatestSnapshot returns the most recent snapshot, or ErrNotFound when
	// the account has never been persisted.
	LatestSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// PriceFeed supplies the current price for an asset. A transient failure is
// reported as an error wrapping ErrPriceUnavailable; callers skip the asset
// for the current tick and retry on the next.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, assetID string) (float64, error)
}

// PriceCache is a short-lived store of last-seen prices, fed by the
// streaming side and read before falling back to a REST lookup.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been cached.
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
}

// BlobWriter uploads a serialized object to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// PutMultipart streams a large payload in parts; partSize below the
	// backend minimum is raised to it.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// LockManager provides a process-singleton lock so two monitor instances
// never mutate the same ledger.
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld if another
	// instance holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
