// Package pipeline owns the active database engine. It resolves the engine
// once no matter how many callers ask concurrently, publishes the
// initialization status, and serializes every use of the engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"praxis/internal/blob"
	"praxis/internal/broadcast"
	"praxis/internal/engine"
	"praxis/internal/telemetry"
	"praxis/pkg/domain"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline: closed")
	// ErrReset is returned to waiters of a resolution discarded by Reset.
	ErrReset = errors.New("pipeline: reset during initialization")
)

// InitError wraps the terminal failure of a resolution. Every caller
// waiting on the same resolution receives the same InitError.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return "initialization failed: " + e.Err.Error() }

func (e *InitError) Unwrap() error { return e.Err }

// Resolver produces the initial engine.
type Resolver interface {
	Resolve(ctx context.Context) (*engine.Engine, domain.Origin, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (*engine.Engine, domain.Origin, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context) (*engine.Engine, domain.Origin, error) {
	return f(ctx)
}

const (
	flightKey = "resolve"
	// defaultSnapshotKey matches the key the resolver and repository use
	// when none is configured.
	defaultSnapshotKey = "praxis-db/snapshot"
)

// Pipeline is the single owner of the active engine.
type Pipeline struct {
	resolver    Resolver
	store       blob.Store
	snapshotKey string
	log      zerolog.Logger
	metrics  *telemetry.Metrics

	flights singleflight.Group
	status  *broadcast.Latest[domain.Status]

	life     context.Context
	shutdown context.CancelFunc

	// engMu serializes engine use and replacement.
	engMu sync.Mutex

	mu      sync.Mutex
	eng     *engine.Engine
	origin  domain.Origin
	initErr error
	done    bool
	gen     uint64
	closed  bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithMetrics records initialization outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStore sets the durable store whose snapshot Reset deletes.
func WithStore(store blob.Store) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithSnapshotKey sets the key of the snapshot deleted by Reset. Other
// objects in the store, such as exported backups, are left alone.
func WithSnapshotKey(key string) Option {
	return func(p *Pipeline) {
		if key != "" {
			p.snapshotKey = key
		}
	}
}

// New returns a pipeline in the loading state. Resolution starts on the
// first call to Ready.
func New(resolver Resolver, opts ...Option) *Pipeline {
	life, shutdown := context.WithCancel(context.Background())
	p := &Pipeline{
		resolver:    resolver,
		snapshotKey: defaultSnapshotKey,
		log:         zerolog.Nop(),
		status:      broadcast.NewLatest(domain.LoadingStatus(), 8),
		life:        life,
		shutdown:    shutdown,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type outcome struct {
	origin domain.Origin
}

// Ready waits for the engine and returns its origin. Concurrent callers share
// one resolution; ctx only bounds how long this caller waits.
func (p *Pipeline) Ready(ctx context.Context) (domain.Origin, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	if p.done {
		origin, err := p.origin, p.initErr
		p.mu.Unlock()
		return origin, err
	}
	gen := p.gen
	p.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := p.flights.DoChan(flightKey, func() (any, error) {
		origin, err := p.resolve(detached, gen)
		return outcome{origin: origin}, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(outcome).origin, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Pipeline) resolve(parent context.Context, gen uint64) (domain.Origin, error) {
	p.mu.Lock()
	if p.done || p.gen != gen {
		origin, err := p.origin, p.initErr
		p.mu.Unlock()
		return origin, err
	}
	p.mu.Unlock()

	// The status is already loading: New starts there and Reset publishes it.
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(p.life, cancel)
	defer func() {
		stop()
		cancel()
	}()

	start := time.Now()
	eng, origin, err := p.resolver.Resolve(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		closeQuietly(eng)
		return "", ErrClosed
	case p.gen != gen:
		closeQuietly(eng)
		return "", ErrReset
	case p.done:
		// Replaced while resolving; the replacement wins.
		closeQuietly(eng)
		return p.origin, p.initErr
	}
	p.done = true
	if err != nil {
		p.initErr = &InitError{Err: err}
		p.metrics.InitOutcome("error")
		p.log.Error().Err(err).Dur("took", time.Since(start)).Msg("database initialization failed")
		p.status.Set(domain.ErrorStatus(err.Error()))
		return "", p.initErr
	}
	p.eng, p.origin = eng, origin
	p.metrics.InitOutcome(string(origin))
	p.log.Info().Str("origin", string(origin)).Dur("took", time.Since(start)).Msg("database initialized")
	p.status.Set(domain.ReadyStatus(origin))
	return origin, nil
}

// Status returns the current initialization status.
func (p *Pipeline) Status() domain.Status { return p.status.Get() }

// Subscribe returns a channel that yields the current status followed by
// every change until ctx ends or the pipeline closes.
func (p *Pipeline) Subscribe(ctx context.Context) <-chan domain.Status {
	return p.status.Subscribe(ctx)
}

// Origin returns the origin of the active engine, or "" before ready.
func (p *Pipeline) Origin() domain.Origin {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eng == nil {
		return ""
	}
	return p.origin
}

// WithEngine waits for readiness and runs fn with exclusive use of the
// active engine. Initialization errors are returned unchanged.
func (p *Pipeline) WithEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	for {
		if _, err := p.Ready(ctx); err != nil {
			return err
		}
		p.engMu.Lock()
		p.mu.Lock()
		eng, closed := p.eng, p.closed
		p.mu.Unlock()
		if closed {
			p.engMu.Unlock()
			return ErrClosed
		}
		if eng != nil {
			err := fn(eng)
			p.engMu.Unlock()
			return err
		}
		// Reset between Ready and the lock; wait for the next resolution.
		p.engMu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Replace installs eng as the active engine, closes the previous one and
// publishes ready(origin). eng must already be fully constructed.
func (p *Pipeline) Replace(ctx context.Context, eng *engine.Engine, origin domain.Origin) error {
	if eng == nil {
		return fmt.Errorf("replace: nil engine")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.engMu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.engMu.Unlock()
		return ErrClosed
	}
	old := p.eng
	p.eng, p.origin, p.initErr, p.done = eng, origin, nil, true
	p.status.Set(domain.ReadyStatus(origin))
	p.mu.Unlock()
	p.engMu.Unlock()

	if old != nil && old != eng {
		if err := old.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close replaced engine")
		}
	}
	p.metrics.InitOutcome(string(origin))
	p.log.Info().Str("origin", string(origin)).Msg("database replaced")
	return nil
}

// Reset discards the active engine and deletes the durable snapshot. The
// status returns to loading and the next Ready resolves from scratch.
func (p *Pipeline) Reset(ctx context.Context) error {
	p.engMu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.engMu.Unlock()
		return ErrClosed
	}
	old := p.eng
	p.eng, p.origin, p.initErr, p.done = nil, "", nil, false
	p.gen++
	p.flights.Forget(flightKey)
	p.status.Set(domain.LoadingStatus())
	p.mu.Unlock()
	p.engMu.Unlock()

	closeQuietly(old)
	p.log.Info().Str("key", p.snapshotKey).Msg("database reset")
	if p.store == nil {
		return nil
	}
	if _, err := p.store.Delete(ctx, p.snapshotKey); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", p.snapshotKey, err)
	}
	return nil
}

// Close stops any pending resolution, closes the engine and every status
// subscription.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.shutdown()

	p.engMu.Lock()
	p.mu.Lock()
	eng := p.eng
	p.eng = nil
	p.mu.Unlock()
	p.engMu.Unlock()

	p.status.Close()
	if eng != nil {
		return eng.Close()
	}
	return nil
}

func closeQuietly(eng *engine.Engine) {
	if eng != nil {
		_ = eng.Close()
	}
}
