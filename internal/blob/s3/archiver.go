package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantafe/tokensentry/internal/domain"
)

// multipartThreshold is the payload size at which the archiver switches from
// a single PutObject to a streamed multipart upload.
const multipartThreshold int64 = 8 * 1024 * 1024

// Archiver exports aged journal rows to cold storage. Deletion of archived
// rows from the primary store is intentionally not performed here; that is a
// separate, explicit step to run after the archive has been verified.
type Archiver struct {
	writer  domain.BlobWriter
	journal domain.TradeJournal
	// retain is how long trades stay out of cold storage.
	retain   time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewArchiver creates an Archiver that exports trades closed more than
// retain ago, checking on the given interval.
func NewArchiver(writer domain.BlobWriter, journal domain.TradeJournal, retain, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:   writer,
		journal:  journal,
		retain:   retain,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on the configured interval until the context is canceled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.ArchiveTrades(ctx, time.Now().Add(-a.retain))
			if err != nil {
				a.logger.Error("trade archive failed", slog.Any("error", err))
				continue
			}
			if count > 0 {
				a.logger.Info("trades archived", slog.Int64("count", count))
			}
		}
	}
}

// ArchiveTrades queries journal rows closed before the cutoff, serializes
// them to JSONL, and uploads the file at archive/trades/YYYY-MM.jsonl.
// Returns the number of archived rows.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.journal.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, buf, "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(trades)), nil
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the cold-storage key for a cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}
