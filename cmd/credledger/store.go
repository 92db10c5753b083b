package credledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/liftedinit/credledger/internal/config"
	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/store/memory"
	"github.com/liftedinit/credledger/internal/store/pebblestore"
	"github.com/liftedinit/credledger/internal/store/postgresql"
)

// openStore opens the configured backend. The returned *sql.DB is only set for PostgreSQL.
func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.Backend, *sql.DB, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := postgresql.NewPostgresStore(ctx, cfg.ConnString, cfg.MaxConns)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to open PostgreSQL block store")
		}
		return store, store.DB(), nil
	case config.BackendPebble:
		store, err := pebblestore.New(cfg.PebblePath)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to open pebble block store")
		}
		return store, nil, nil
	case config.BackendMemory:
		slog.Warn("Using the in-memory block store, blocks will not survive a restart")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

func loadStoreConfig() (config.StoreConfig, error) {
	cfg := config.LoadStoreConfigFromCLI()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid Store configuration: %w", err)
	}
	slog.Debug("Command-line arguments", "backend", cfg.Backend, "pebblePath", cfg.PebblePath, "maxRetries", cfg.MaxRetries)
	return cfg, nil
}

func closeStore(store ledger.Store) {
	if err := store.Close(); err != nil {
		slog.Error("Failed to close block store", "error", err)
	}
}

// handleInterrupt handles interrupt signals for graceful shutdown.
func handleInterrupt(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		slog.Info("Received interrupt signal, shutting down...")
		cancel()
	}()
}
