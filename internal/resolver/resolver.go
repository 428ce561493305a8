// Package resolver picks the bootstrap source of the embedded database. Tiers
// are tried in order; the first that produces an engine wins.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"praxis/internal/assets"
	"praxis/internal/blob"
	"praxis/internal/engine"
	"praxis/internal/fixtures"
	"praxis/internal/telemetry"
	"praxis/pkg/domain"
)

// DefaultSnapshotKey is the durable store key of the latest snapshot.
const DefaultSnapshotKey = "praxis-db/snapshot"

// ErrUnavailable marks a tier whose source could not provide a payload.
// Resolution falls through to the next tier.
var ErrUnavailable = errors.New("resolver: source unavailable")

// ErrNoTiers is returned when every tier was unavailable.
var ErrNoTiers = errors.New("resolver: no bootstrap source available")

// Tier is one bootstrap source.
type Tier interface {
	Origin() domain.Origin
	// Attempt builds an engine. An error wrapping ErrUnavailable falls
	// through; any other error stops resolution.
	Attempt(ctx context.Context) (*engine.Engine, error)
}

// Resolver runs tiers in order.
type Resolver struct {
	tiers   []Tier
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithMetrics records tier outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New returns a Resolver over tiers.
func New(tiers []Tier, opts ...Option) *Resolver {
	r := &Resolver{tiers: tiers, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Standard returns the four-tier resolver: persisted snapshot, prebuilt
// image, schema script, legacy fixtures.
func Standard(store blob.Store, key string, fetcher assets.Fetcher, opts ...Option) *Resolver {
	return New([]Tier{
		PersistedTier{Store: store, Key: key},
		PrebuiltTier{Fetcher: fetcher},
		SchemaTier{Fetcher: fetcher},
		LegacyTier{Dataset: fixtures.Legacy},
	}, opts...)
}

// Resolve returns the engine of the first tier that succeeds.
func (r *Resolver) Resolve(ctx context.Context) (*engine.Engine, domain.Origin, error) {
	for _, tier := range r.tiers {
		origin := tier.Origin()
		start := time.Now()
		eng, err := tier.Attempt(ctx)
		if err == nil {
			r.log.Info().Str("origin", string(origin)).Dur("took", time.Since(start)).Msg("database ready")
			return eng, origin, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			r.log.Error().Err(err).Str("origin", string(origin)).Msg("engine construction failed")
			return nil, "", fmt.Errorf("%s: %w", origin, err)
		}
		r.metrics.TierSkipped(string(origin))
		r.log.Warn().Err(err).Str("origin", string(origin)).Msg("bootstrap source unavailable")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
	}
	return nil, "", ErrNoTiers
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// PersistedTier restores the last durable snapshot.
type PersistedTier struct {
	Store blob.Store
	Key   string
}

// Origin implements Tier.
func (PersistedTier) Origin() domain.Origin { return domain.OriginPersisted }

// Attempt implements Tier.
func (t PersistedTier) Attempt(ctx context.Context) (*engine.Engine, error) {
	if t.Store == nil {
		return nil, unavailable("no durable store")
	}
	key := t.Key
	if key == "" {
		key = DefaultSnapshotKey
	}
	data, _, err := t.Store.Get(ctx, key)
	if err != nil {
		return nil, unavailable("read %s: %v", key, err)
	}
	if len(data) == 0 {
		return nil, unavailable("empty snapshot at %s", key)
	}
	return engine.OpenBytes(ctx, data)
}

// PrebuiltTier opens the database image shipped with the assets.
type PrebuiltTier struct {
	Fetcher assets.Fetcher
	Path    string
}

// Origin implements Tier.
func (PrebuiltTier) Origin() domain.Origin { return domain.OriginPrebuilt }

// Attempt implements Tier.
func (t PrebuiltTier) Attempt(ctx context.Context) (*engine.Engine, error) {
	body, err := fetch(ctx, t.Fetcher, orDefault(t.Path, assets.PrebuiltPath))
	if err != nil {
		return nil, err
	}
	eng, err := engine.OpenBytes(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("open prebuilt image (%s): %w", humanize.Bytes(uint64(len(body))), err)
	}
	return eng, nil
}

// SchemaTier builds an empty database from the published schema script.
type SchemaTier struct {
	Fetcher assets.Fetcher
	Path    string
}

// Origin implements Tier.
func (SchemaTier) Origin() domain.Origin { return domain.OriginSchema }

// Attempt implements Tier.
func (t SchemaTier) Attempt(ctx context.Context) (*engine.Engine, error) {
	body, err := fetch(ctx, t.Fetcher, orDefault(t.Path, assets.SchemaPath))
	if err != nil {
		return nil, err
	}
	eng, err := engine.OpenEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if err := eng.ExecScript(ctx, string(body)); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("apply schema script: %w", err)
	}
	return eng, nil
}

// LegacyTier seeds a fresh database with the bundled fixtures.
type LegacyTier struct {
	Dataset func() fixtures.Dataset
}

// Origin implements Tier.
func (LegacyTier) Origin() domain.Origin { return domain.OriginLegacy }

// Attempt implements Tier.
func (t LegacyTier) Attempt(ctx context.Context) (*engine.Engine, error) {
	dataset := t.Dataset
	if dataset == nil {
		dataset = fixtures.Legacy
	}
	eng, err := engine.OpenEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if err := dataset().Load(ctx, eng); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("seed fixtures: %w", err)
	}
	return eng, nil
}

func fetch(ctx context.Context, f assets.Fetcher, path string) ([]byte, error) {
	if f == nil {
		return nil, unavailable("no asset fetcher")
	}
	resp, err := f.Fetch(ctx, path)
	if err != nil {
		return nil, unavailable("fetch %s: %v", path, err)
	}
	if !resp.OK() {
		return nil, unavailable("fetch %s: status %d", path, resp.Status)
	}
	if len(resp.Body) == 0 {
		return nil, unavailable("fetch %s: empty body", path)
	}
	return resp.Body, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
