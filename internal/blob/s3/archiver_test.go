package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantafe/tokensentry/internal/domain"
)

type memWriter struct {
	puts       map[string][]byte
	multiparts map[string][]byte
}

func newMemWriter() *memWriter {
	return &memWriter{
		puts:       map[string][]byte{},
		multiparts: map[string][]byte{},
	}
}

func (w *memWriter) Put(_ context.Context, path string, data []byte, _ string) error {
	w.puts[path] = data
	return nil
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.multiparts[path] = buf
	return nil
}

type memJournal struct {
	trades []domain.ClosedTrade
}

func (j *memJournal) Append(context.Context, domain.ClosedTrade) error { return nil }
func (j *memJournal) Summary(context.Context) (domain.JournalSummary, error) {
	return domain.JournalSummary{}, nil
}
func (j *memJournal) ListBefore(_ context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	var out []domain.ClosedTrade
	for _, t := range j.trades {
		if t.ClosedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestArchiveTradesWritesJSONL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := newMemWriter()
	journal := &memJournal{trades: []domain.ClosedTrade{
		{PositionID: "p1", AssetID: "mint-1", ClosedAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)},
		{PositionID: "p2", AssetID: "mint-2", ClosedAt: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)},
		{PositionID: "p3", AssetID: "mint-3", ClosedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}}

	arch := NewArchiver(writer, journal, 0, time.Hour, logger)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	data, ok := writer.puts["archive/trades/2026-02.jsonl"]
	require.True(t, ok)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestArchiveTradesSkipsEmptyRange(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := newMemWriter()
	arch := NewArchiver(writer, &memJournal{}, 0, time.Hour, logger)

	count, err := arch.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.puts)
}

func TestArchiveLargeMonthStreamsMultipart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := newMemWriter()

	padding := strings.Repeat("x", 512)
	journal := &memJournal{}
	for i := 0; i < 20_000; i++ {
		journal.trades = append(journal.trades, domain.ClosedTrade{
			PositionID: "p1",
			AssetID:    "mint-1",
			ExitReason: padding,
			ClosedAt:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		})
	}

	arch := NewArchiver(writer, journal, 0, time.Hour, logger)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), count)

	data, ok := writer.multiparts["archive/trades/2026-02.jsonl"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, int64(len(data)), multipartThreshold)
	assert.Empty(t, writer.puts)
}
