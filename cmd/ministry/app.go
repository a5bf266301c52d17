package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/git-pkgs/ministry/all"
	"github.com/git-pkgs/ministry/fetch"
	"github.com/git-pkgs/ministry/internal/backend/pebble"
	"github.com/git-pkgs/ministry/internal/blobstore"
	"github.com/git-pkgs/ministry/internal/blobstore/minio"
	"github.com/git-pkgs/ministry/internal/config"
	"github.com/git-pkgs/ministry/internal/core"
	"github.com/git-pkgs/ministry/internal/upstream"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  core.Backend
	guard    *core.GuardedBackend
	store    *core.Store
	blobs    blobstore.Store
	fetcher  *fetch.Fetcher
	breakers *fetch.CircuitBreakerFetcher
	upstream *upstream.Client
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	backend, err := core.Open(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("opening backend: %w", err)
	}
	guard := core.NewGuardedBackend(backend, cfg.Breaker.Core())

	storeOpts := []core.Option{
		core.WithLogger(logger),
		core.WithCompression(cfg.CompressionTag()),
	}
	if len(cfg.NonIndexed) > 0 {
		storeOpts = append(storeOpts, core.WithNonIndexed(cfg.NonIndexed...))
	}

	blobs, err := openBlobs(cfg.Storage, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	fetcher := fetch.NewFetcher(fetch.WithRateLimit(cfg.Upstream.RequestsPerSecond))
	breakers := fetch.NewCircuitBreakerFetcher(fetcher)

	return &app{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		guard:    guard,
		store:    core.NewStore(guard, storeOpts...),
		blobs:    blobs,
		fetcher:  fetcher,
		breakers: breakers,
		upstream: upstream.New(cfg.Upstream.URL, breakers, logger),
	}, nil
}

func openBlobs(cfg config.StorageConfig, logger *slog.Logger) (blobstore.Store, error) {
	switch cfg.Kind {
	case "minio":
		s, err := minio.New(minio.Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.Secure,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return blobstore.NewLocalStore(cfg.Dir, logger), nil
	}
}

// collector returns the backend's own metrics, if it exports any.
func (a *app) collector() prometheus.Collector {
	if b, ok := a.backend.(*pebble.Backend); ok {
		return b.Collector()
	}
	return nil
}

func (a *app) Close() {
	a.fetcher.Close()
	if err := a.guard.Close(); err != nil {
		a.logger.Warn("closing backend", "error", err)
	}
}
