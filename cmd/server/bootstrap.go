package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"consentsync/internal/consent/remote"
	"consentsync/internal/platform/config"
	"consentsync/internal/platform/logger"
	"consentsync/internal/platform/redis"
	"consentsync/internal/sync/kv"
)

const serviceName = "consentsync"

// deps holds what every command shares: config, logger, the durable store
// and the backend connection. Close releases them in reverse order.
type deps struct {
	cfg     config.Config
	log     *slog.Logger
	store   kv.Store
	dsn     string
	db      *sql.DB
	backend *remote.PostgresBackend
	closers []func() error
}

func bootstrap(ctx context.Context, debug bool) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	d := &deps{
		cfg: cfg,
		log: logger.New(logger.Options{
			Service: serviceName,
			Debug:   debug || cfg.Debug,
			OTLP:    cfg.OTLP.Enabled,
		}),
	}

	if err := d.openStore(ctx); err != nil {
		return nil, errors.Join(err, d.Close())
	}

	d.dsn, err = remote.DSN(cfg.Backend.URL, cfg.Backend.Key)
	if err != nil {
		return nil, errors.Join(err, d.Close())
	}
	// an unreachable backend is a connectivity state, not a startup failure
	d.db, err = remote.NewDB(d.dsn)
	if err != nil {
		return nil, errors.Join(err, d.Close())
	}
	d.closers = append(d.closers, d.db.Close)
	d.backend = remote.NewPostgres(d.db)
	return d, nil
}

// openStore prefers Redis when configured and falls back to the file tier.
func (d *deps) openStore(ctx context.Context) error {
	client, err := redis.New(ctx, d.cfg.Redis)
	if err != nil {
		d.log.Warn("redis unavailable, using file store", "error", err)
	}
	if client != nil {
		d.log.Info("durable cache tier", "backend", "redis")
		d.store = kv.NewRedisStore(client.Client)
		d.closers = append(d.closers, client.Close)
		return nil
	}

	dir := d.cfg.Cache.Dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, serviceName)
	}
	store, err := kv.OpenFileStore(dir, d.log)
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}
	d.log.Info("durable cache tier", "backend", "file", "dir", dir)
	d.store = store
	return nil
}

func (d *deps) Close() error {
	var errs *multierror.Error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	d.closers = nil
	return errs.ErrorOrNil()
}
