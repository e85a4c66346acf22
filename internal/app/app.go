package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quantafe/tokensentry/internal/config"
	"github.com/quantafe/tokensentry/internal/domain"
)

const runLockTTL = time.Minute

// App owns the process lifecycle: it wires dependencies, restores persisted
// state, and runs the scanner, the position monitor, and the supporting
// background loops until the context is cancelled.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	deps    *Dependencies
	cleanup func()
}

// New creates an App from the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger.With(slog.String("component", "app"))}
}

// Run wires dependencies and runs all loops until ctx is cancelled or a loop
// fails. It returns nil on a clean, signal-driven shutdown.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.deps = deps
	a.cleanup = cleanup

	// Only one instance may manage the book against a shared database.
	unlock, err := deps.LockManager.Acquire(ctx, "run", runLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another instance is already running: %w", err)
		}
		return fmt.Errorf("app: acquire run lock: %w", err)
	}
	defer unlock()

	if err := a.restore(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Monitor.Run(ctx) })
	g.Go(func() error { return deps.Scanner.Run(ctx) })

	if deps.Stream != nil {
		g.Go(func() error { return deps.Stream.Run(ctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	if a.cfg.Server.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	a.logger.Info("started",
		slog.Int("active_positions", deps.Book.Len()),
		slog.Float64("available_capital", deps.Ledger.Available()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// restore reloads active positions and the latest account snapshot so a
// restart picks up exactly where the previous process stopped.
func (a *App) restore(ctx context.Context) error {
	positions, err := a.deps.Positions.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("app: load active positions: %w", err)
	}
	if err := a.deps.Book.Load(positions); err != nil {
		return fmt.Errorf("app: restore book: %w", err)
	}

	snap, err := a.deps.Accounts.LatestSnapshot(ctx)
	switch {
	case err == nil:
		a.deps.Ledger.Restore(snap)
	case errors.Is(err, domain.ErrNotFound):
		a.logger.Info("no account snapshot found, starting fresh",
			slog.Float64("starting_capital", a.cfg.Account.StartingCapital))
	default:
		return fmt.Errorf("app: load account snapshot: %w", err)
	}

	if len(positions) > 0 {
		a.logger.Info("restored active positions", slog.Int("count", len(positions)))
	}
	return nil
}

// serveMetrics runs the Prometheus/health HTTP listener until ctx is
// cancelled.
func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("metrics server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: metrics server: %w", err)
	}
}

// Close releases all wired resources.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}
