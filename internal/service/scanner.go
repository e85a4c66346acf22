package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantafe/tokensentry/internal/book"
	"github.com/quantafe/tokensentry/internal/domain"
)

// Scanner polls the upstream screener for fresh candidates, asks the oracle
// for an advisory, and hands BUYs to intake.
type Scanner struct {
	source   domain.CandidateSource
	oracle   domain.AdvisoryOracle
	intake   *Intake
	book     *book.Book
	interval time.Duration
	logger   *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(
	source domain.CandidateSource,
	oracle domain.AdvisoryOracle,
	intake *Intake,
	bk *book.Book,
	interval time.Duration,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		source:   source,
		oracle:   oracle,
		intake:   intake,
		book:     bk,
		interval: interval,
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// Run polls until the context is canceled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scanner started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("scan failed", slog.Any("error", err))
			}
		}
	}
}

// Scan processes one batch of candidates. Per-candidate failures are logged
// and do not abort the batch.
func (s *Scanner) Scan(ctx context.Context) error {
	candidates, err := s.source.PendingCandidates(ctx)
	if err != nil {
		return err
	}

	for _, cand := range candidates {
		if s.book.HasActive(cand.AssetID) {
			continue
		}

		adv, err := s.oracle.Evaluate(ctx, cand.AssetID, cand.Features)
		if err != nil {
			s.logger.Warn("oracle evaluation failed",
				slog.String("asset_id", cand.AssetID),
				slog.Any("error", err),
			)
			continue
		}
		if adv.Symbol == "" {
			adv.Symbol = cand.Symbol
		}

		if _, err := s.intake.Consider(ctx, adv, cand.Features); err != nil {
			switch {
			case errors.Is(err, domain.ErrDuplicatePosition):
				// Raced with a concurrent consider; the first one won.
			case errors.Is(err, domain.ErrInsufficientCapital):
				s.logger.Info("candidate skipped, capital exhausted",
					slog.String("asset_id", cand.AssetID),
				)
			default:
				s.logger.Error("intake failed",
					slog.String("asset_id", cand.AssetID),
					slog.Any("error", err),
				)
			}
		}
	}
	return nil
}
