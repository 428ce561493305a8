// Package core assembles the persistence engine from configuration: the
// durable store, the bootstrap resolver, the initialization pipeline, the
// repository and snapshot import/export.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"praxis/internal/assets"
	"praxis/internal/blob"
	"praxis/internal/config"
	"praxis/internal/pipeline"
	"praxis/internal/repository"
	"praxis/internal/resolver"
	"praxis/internal/snapshot"
	"praxis/internal/telemetry"
	"praxis/pkg/domain"
)

// Service owns every long-lived component. Callers reach entities through
// Repo and backups through Snapshots.
type Service struct {
	Repo      *repository.Repository
	Snapshots *snapshot.IO

	cfg      config.Config
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	expvar   *telemetry.ExpvarRecorder
	store    blob.Store
	pipeline *pipeline.Pipeline
}

// Option configures Open.
type Option func(*options)

type options struct {
	log     *zerolog.Logger
	store   blob.Store
	fetcher assets.Fetcher
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = &log }
}

// WithStore injects a durable store instead of opening the configured one.
// The service still closes it.
func WithStore(store blob.Store) Option {
	return func(o *options) { o.store = store }
}

// WithFetcher injects the asset fetcher instead of one built from
// assets.base.
func WithFetcher(f assets.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// Open wires a Service. Nothing is resolved until the first engine use.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var log zerolog.Logger
	if o.log != nil {
		log = *o.log
	} else {
		l, err := telemetry.NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		log = l
	}
	metrics := telemetry.NewMetrics(cfg.Metrics)

	store := o.store
	if store == nil {
		s, err := blob.Open(ctx, cfg.Store, telemetry.Component(log, "blob"))
		if err != nil {
			return nil, err
		}
		store = s
	}
	fetcher := o.fetcher
	if fetcher == nil {
		f, err := assets.New(cfg.Assets.Base)
		if err != nil {
			_ = blob.Close(store)
			return nil, err
		}
		fetcher = f
	}

	s := &Service{cfg: cfg, log: log, metrics: metrics, store: store}
	recorders := telemetry.Recorders{metrics}
	if cfg.Serve.Expvar {
		s.expvar = telemetry.NewExpvarRecorder("")
		recorders = append(recorders, s.expvar)
	}

	res := resolver.Standard(store, cfg.Snapshot.Key, fetcher,
		resolver.WithLogger(telemetry.Component(log, "resolver")),
		resolver.WithMetrics(metrics),
	)
	s.pipeline = pipeline.New(res,
		pipeline.WithLogger(telemetry.Component(log, "pipeline")),
		pipeline.WithMetrics(metrics),
		pipeline.WithStore(store),
		pipeline.WithSnapshotKey(cfg.Snapshot.Key),
	)
	s.Repo = repository.New(s.pipeline, store,
		repository.WithLogger(telemetry.Component(log, "repository")),
		repository.WithMetrics(metrics),
		repository.WithRecorder(recorders),
		repository.WithSnapshotKey(cfg.Snapshot.Key),
	)
	s.Snapshots = snapshot.New(s.pipeline, s.Repo,
		snapshot.WithLogger(telemetry.Component(log, "snapshot")),
		snapshot.WithRecorder(recorders),
	)
	log.Debug().Str("store", string(store.Driver())).Str("assets", cfg.Assets.Base).Msg("service assembled")
	return s, nil
}

// Ready resolves the engine if needed and returns its origin.
func (s *Service) Ready(ctx context.Context) (domain.Origin, error) {
	return s.pipeline.Ready(ctx)
}

// Status returns the current initialization status.
func (s *Service) Status() domain.Status { return s.pipeline.Status() }

// Subscribe streams initialization status changes.
func (s *Service) Subscribe(ctx context.Context) <-chan domain.Status {
	return s.pipeline.Subscribe(ctx)
}

// Save blocks until the active database is durably stored.
func (s *Service) Save(ctx context.Context) error { return s.Repo.Save(ctx) }

// Reset waits for pending snapshot writes, then discards the active
// database and the durable snapshot so the next use bootstraps again.
func (s *Service) Reset(ctx context.Context) error {
	s.Repo.Flush()
	if err := s.pipeline.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Config returns the configuration the service was opened with.
func (s *Service) Config() config.Config { return s.cfg }

// Metrics returns the prometheus metrics, nil when disabled.
func (s *Service) Metrics() *telemetry.Metrics { return s.metrics }

// Store returns the durable store.
func (s *Service) Store() blob.Store { return s.store }

// Logger returns the root logger.
func (s *Service) Logger() zerolog.Logger { return s.log }

// Close flushes pending writes and releases the engine and the store.
func (s *Service) Close() error {
	s.Repo.Close()
	return errors.Join(s.pipeline.Close(), blob.Close(s.store))
}
