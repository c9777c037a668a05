// Package common implements common fairdraw command options.
package common

import (
	"context"
	"fmt"
	"io"
	stdLog "log"
	"os"

	"github.com/akrylysov/pogreb"

	"github.com/oasisprotocol/fairdraw/config"
	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/metrics"
	"github.com/oasisprotocol/fairdraw/storage"
	"github.com/oasisprotocol/fairdraw/storage/kvstore"
	"github.com/oasisprotocol/fairdraw/storage/memory"
	"github.com/oasisprotocol/fairdraw/storage/postgres"
	"github.com/oasisprotocol/fairdraw/storage/redis"
)

var rootLogger = log.NewDefaultLogger("fairdraw")

// Init initializes the common environment.
func Init(cfg *config.Config) error {
	var w io.Writer = os.Stdout
	format := log.FmtJSON
	level := log.LevelDebug

	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("fairdraw", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Pogreb logs through the standard library logger.
	pogrebLogger := RootLogger().WithModule("pogreb").WithCallerUnwind(8)
	pogreb.SetLogger(stdLog.New(log.WriterIntoLogger(*pogrebLogger), "", 0))

	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stdout, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// wiper is implemented by backends that can drop all stored sessions.
type wiper interface {
	Wipe(ctx context.Context) error
}

// NewStore opens the configured session store, wiping it first if
// requested and bringing the postgres schema up to date. The returned
// store records metrics for every call.
func NewStore(ctx context.Context, cfg *config.StorageConfig, logger *log.Logger) (storage.SessionStore, error) {
	var backend config.StorageBackend
	if err := backend.Set(cfg.Backend); err != nil {
		return nil, err
	}

	var store storage.SessionStore
	switch backend {
	case config.BackendMemory:
		store = memory.New()
	case config.BackendPostgres:
		client, err := postgres.NewClient(ctx, cfg.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		if err = wipeIfRequested(ctx, cfg, client, logger); err != nil {
			client.Close()
			return nil, err
		}
		if err = client.Migrate(ctx, cfg.Migrations); err != nil {
			client.Close()
			return nil, err
		}
		store = client
	case config.BackendPogreb:
		if cfg.WipeStorage {
			logger.Warn("wiping storage", "path", cfg.Endpoint)
			if err := os.RemoveAll(cfg.Endpoint); err != nil {
				return nil, fmt.Errorf("wiping %s: %w", cfg.Endpoint, err)
			}
		}
		kv, err := kvstore.Open(logger, cfg.Endpoint, kvstore.DefaultOpenTimeout)
		if err != nil {
			return nil, err
		}
		store = kv
	case config.BackendRedis:
		rs, err := redis.Open(ctx, cfg.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		if err = wipeIfRequested(ctx, cfg, rs, logger); err != nil {
			rs.Close()
			return nil, err
		}
		store = rs
	default:
		panic(fmt.Sprintf("unsupported storage backend: %v", backend.String()))
	}

	return storage.Instrument(store, backend.String(), metrics.NewDefaultStorageMetrics()), nil
}

func wipeIfRequested(ctx context.Context, cfg *config.StorageConfig, w wiper, logger *log.Logger) error {
	if !cfg.WipeStorage {
		return nil
	}
	logger.Warn("wiping storage", "backend", cfg.Backend)
	if err := w.Wipe(ctx); err != nil {
		return fmt.Errorf("wiping storage: %w", err)
	}
	logger.Info("storage wiped")
	return nil
}
