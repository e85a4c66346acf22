package book

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantafe/tokensentry/internal/domain"
)

func testBook() *Book {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pos(id, asset string, status domain.PositionStatus, watchAt time.Time) *domain.Position {
	return &domain.Position{
		ID:             id,
		AssetID:        asset,
		Status:         status,
		WatchStartedAt: watchAt,
	}
}

func TestOpenRejectsDuplicateActive(t *testing.T) {
	b := testBook()
	now := time.Now()

	require.NoError(t, b.Open(pos("p1", "mintA", domain.PositionStatusWatching, now)))

	err := b.Open(pos("p2", "mintA", domain.PositionStatusWatching, now))
	assert.ErrorIs(t, err, domain.ErrDuplicatePosition)

	// The original position is untouched.
	got, ok := b.Get("mintA")
	require.True(t, ok)
	assert.Equal(t, "p1", got.ID)
}

func TestOpenAllowsReplacingTerminal(t *testing.T) {
	b := testBook()
	now := time.Now()

	require.NoError(t, b.Open(pos("p1", "mintA", domain.PositionStatusClosed, now)))
	require.NoError(t, b.Open(pos("p2", "mintA", domain.PositionStatusWatching, now)))

	got, _ := b.Get("mintA")
	assert.Equal(t, "p2", got.ID)
}

func TestActiveIsOrderedAndExcludesTerminal(t *testing.T) {
	b := testBook()
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, b.Open(pos("p2", "mintB", domain.PositionStatusOpen, t0.Add(time.Hour))))
	require.NoError(t, b.Open(pos("p1", "mintA", domain.PositionStatusWatching, t0)))
	require.NoError(t, b.Open(pos("p3", "mintC", domain.PositionStatusExpired, t0)))

	active := b.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "p1", active[0].ID)
	assert.Equal(t, "p2", active[1].ID)
}

func TestArchiveOnlyTerminal(t *testing.T) {
	b := testBook()
	now := time.Now()

	require.NoError(t, b.Open(pos("p1", "mintA", domain.PositionStatusOpen, now)))

	_, err := b.Archive("mintA")
	assert.Error(t, err)

	got, _ := b.Get("mintA")
	b.Transition(got, domain.PositionStatusClosed)

	archived, err := b.Archive("mintA")
	require.NoError(t, err)
	assert.Equal(t, "p1", archived.ID)
	assert.Equal(t, 0, b.Len())

	_, err = b.Archive("mintA")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHasActiveTracksTransitions(t *testing.T) {
	b := testBook()
	now := time.Now()

	assert.False(t, b.HasActive("mintA"))

	p := pos("p1", "mintA", domain.PositionStatusWatching, now)
	require.NoError(t, b.Open(p))
	assert.True(t, b.HasActive("mintA"))

	b.Transition(p, domain.PositionStatusOpen)
	assert.True(t, b.HasActive("mintA"))

	b.Transition(p, domain.PositionStatusClosed)
	assert.False(t, b.HasActive("mintA"))
}

func TestActiveAssetIDsSortedAndExcludesTerminal(t *testing.T) {
	b := testBook()
	now := time.Now()

	require.NoError(t, b.Open(pos("p1", "mintB", domain.PositionStatusOpen, now)))
	require.NoError(t, b.Open(pos("p2", "mintA", domain.PositionStatusWatching, now)))
	require.NoError(t, b.Open(pos("p3", "mintC", domain.PositionStatusExpired, now)))

	assert.Equal(t, []string{"mintA", "mintB"}, b.ActiveAssetIDs())
}

func TestLoadSkipsTerminalAndRejectsDuplicates(t *testing.T) {
	b := testBook()
	now := time.Now()

	err := b.Load([]domain.Position{
		*pos("p1", "mintA", domain.PositionStatusOpen, now),
		*pos("p2", "mintB", domain.PositionStatusClosed, now),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())

	b2 := testBook()
	err = b2.Load([]domain.Position{
		*pos("p1", "mintA", domain.PositionStatusOpen, now),
		*pos("p2", "mintA", domain.PositionStatusWatching, now),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicatePosition)
}
