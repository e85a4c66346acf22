// Package book holds the authoritative in-memory collection of positions.
// During a run the book, not the database, is the source of truth; the
// repository trails it as a write-behind copy.
package book

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/quantafe/tokensentry/internal/domain"
)

// Book is the live position collection. It enforces the one-non-terminal
// position-per-asset invariant. The monitor goroutine is the only mutator of
// tracked positions; Status is additionally read by other goroutines (intake
// dedup, stream subscription lists), so every post-admission Status write
// goes through Transition and every cross-goroutine read through HasActive,
// Active or ActiveAssetIDs, all under the book lock.
type Book struct {
	mu      sync.RWMutex
	byAsset map[string]*domain.Position
	logger  *slog.Logger
}

// New creates an empty Book.
func New(logger *slog.Logger) *Book {
	return &Book{
		byAsset: make(map[string]*domain.Position),
		logger:  logger.With(slog.String("component", "book")),
	}
}

// Open admits a new position. It returns domain.ErrDuplicatePosition when a
// non-terminal position already exists for the asset; the existing position
// is untouched.
func (b *Book) Open(pos *domain.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.byAsset[pos.AssetID]; ok && !existing.Status.Terminal() {
		return fmt.Errorf("asset %s: %w", pos.AssetID, domain.ErrDuplicatePosition)
	}
	b.byAsset[pos.AssetID] = pos
	b.logger.Info("position admitted",
		slog.String("position_id", pos.ID),
		slog.String("asset_id", pos.AssetID),
		slog.String("symbol", pos.Symbol),
		slog.String("strategy", string(pos.EntryStrategy)),
	)
	return nil
}

// Get returns the tracked position for an asset, if any. Fields of the
// returned position may only be read from the monitor goroutine; other
// goroutines use HasActive.
func (b *Book) Get(assetID string) (*domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.byAsset[assetID]
	return pos, ok
}

// HasActive reports whether a non-terminal position is tracked for the
// asset. Safe from any goroutine.
func (b *Book) HasActive(assetID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.byAsset[assetID]
	return ok && !pos.Status.Terminal()
}

// Transition publishes a position status change under the book lock, so a
// concurrent HasActive or Active never observes a torn status.
func (b *Book) Transition(pos *domain.Position, status domain.PositionStatus) {
	b.mu.Lock()
	pos.Status = status
	b.mu.Unlock()
}

// Active returns all non-terminal positions ordered by watch start time, so
// tick processing is deterministic.
func (b *Book) Active() []*domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*domain.Position, 0, len(b.byAsset))
	for _, pos := range b.byAsset {
		if !pos.Status.Terminal() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WatchStartedAt.Equal(out[j].WatchStartedAt) {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].WatchStartedAt.Before(out[j].WatchStartedAt)
	})
	return out
}

// ActiveAssetIDs returns the asset ids of all non-terminal positions, for
// feed subscription lists. Safe from any goroutine.
func (b *Book) ActiveAssetIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.byAsset))
	for assetID, pos := range b.byAsset {
		if !pos.Status.Terminal() {
			out = append(out, assetID)
		}
	}
	sort.Strings(out)
	return out
}

// Archive removes a terminal position from the live set and returns it.
// Archiving a non-terminal position is a programming error and is refused.
func (b *Book) Archive(assetID string) (*domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.byAsset[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, domain.ErrNotFound)
	}
	if !pos.Status.Terminal() {
		return nil, fmt.Errorf("book: refusing to archive non-terminal position %s (status %s)", pos.ID, pos.Status)
	}
	delete(b.byAsset, assetID)
	return pos, nil
}

// Load seeds the book from persisted positions at startup. A duplicate
// active asset in the input indicates corrupted persisted state and fails
// the load.
func (b *Book) Load(positions []domain.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range positions {
		pos := positions[i]
		if pos.Status.Terminal() {
			continue
		}
		if _, ok := b.byAsset[pos.AssetID]; ok {
			return fmt.Errorf("book: persisted state has two active positions for asset %s: %w",
				pos.AssetID, domain.ErrDuplicatePosition)
		}
		p := pos
		b.byAsset[pos.AssetID] = &p
	}
	b.logger.Info("book loaded", slog.Int("active_positions", len(b.byAsset)))
	return nil
}

// Len returns the number of tracked (non-archived) positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byAsset)
}
