package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/clipfeed/internal/api"
	"github.com/blackmichael/clipfeed/internal/config"
	"github.com/blackmichael/clipfeed/internal/domain"
	"github.com/blackmichael/clipfeed/internal/feed"
	"github.com/blackmichael/clipfeed/internal/httpserver"
	"github.com/blackmichael/clipfeed/internal/postgres"
	"github.com/blackmichael/clipfeed/internal/push"
	"github.com/blackmichael/clipfeed/internal/sqlite"
	"github.com/blackmichael/clipfeed/internal/toast"
)

// store is the session state kept across restarts: push cursors and
// tombstones of removed posts.
type store interface {
	domain.CursorRepository
	domain.TombstoneRepository
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg.Logging, os.Stdout)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database")

	client := api.NewClient(cfg.APIURL, cfg.Token)
	toasts := toast.NewDispatcher(toast.Options{
		Lifetime:   cfg.Toasts.Lifetime,
		MaxVisible: cfg.Toasts.MaxVisible,
	}, logger)
	defer toasts.Close()

	engine := feed.NewEngine(client, toasts, repo, feed.Options{
		PageSize:     cfg.PageSize,
		TombstoneTTL: cfg.TombstoneTTL,
	}, logger)
	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("feed engine exited with error", "error", err)
		}
	}()

	if err := engine.RestoreTombstones(ctx); err != nil {
		logger.Warn("starting without persisted tombstones", "error", err)
	}

	// Start the push subscriber in the background
	ingestor := push.NewIngestor(logger)
	subscriber := push.NewSubscriber(cfg.PushURL, ingestor, repo, logger)
	engine.Attach(ingestor, subscriber)
	go func() {
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("push subscriber exited with error", "error", err)
		}
	}()

	// Start background tombstone cleanup
	go purgeTombstones(ctx, repo, time.Minute, logger)

	engine.SetScope(domain.Scope{})

	// Start the HTTP server
	server := httpserver.NewServer(cfg, engine, toasts, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("clipfeed started", "port", cfg.Port, "api_url", cfg.APIURL, "push_url", cfg.PushURL)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}
	engine.Close()
	cancel()

	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	if path, ok := cfg.SQLitePath(); ok {
		return sqlite.NewRepository(ctx, path)
	}
	return postgres.NewRepository(ctx, cfg.DatabaseURL)
}

func purgeTombstones(ctx context.Context, repo domain.TombstoneRepository, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.PurgeTombstones(ctx, now)
			if err != nil {
				logger.Error("failed to purge tombstones", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired tombstones", "count", n)
			}
		}
	}
}
