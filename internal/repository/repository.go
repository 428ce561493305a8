// Package repository exposes transactional CRUD over the four entity tables
// of the active engine and keeps the durable snapshot current after every
// committed write.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"praxis/internal/blob"
	"praxis/internal/broadcast"
	"praxis/internal/engine"
	"praxis/internal/entitymodel"
	"praxis/internal/telemetry"
	"praxis/pkg/domain"
)

// SnapshotContentType labels durable snapshots.
const SnapshotContentType = "application/vnd.sqlite3"

const defaultSnapshotKey = "praxis-db/snapshot"

// EngineOwner lends the active engine for the duration of fn.
type EngineOwner interface {
	WithEngine(ctx context.Context, fn func(*engine.Engine) error) error
}

// Filter restricts list results to rows whose column equals a value.
type Filter = entitymodel.Filter

// Where builds an equality filter on a canonical column name.
func Where(column string, value any) Filter { return entitymodel.Where(column, value) }

// ErrNotFound is returned when an entity does not exist.
type ErrNotFound struct {
	Entity domain.EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ValidationError reports an entity rejected before any SQL ran.
type ValidationError struct {
	Entity domain.EntityType
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Entity, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// Repository is the transactional entry point for entity reads and writes.
type Repository struct {
	owner    EngineOwner
	store    blob.Store
	key      string
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	recorder telemetry.Recorder
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
	changes  *broadcast.Feed[domain.Change]

	persistMu sync.Mutex
	pending   sync.WaitGroup
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(r *Repository) { r.log = log } }

// WithMetrics counts writes and snapshot persists on m.
func WithMetrics(m *telemetry.Metrics) Option { return func(r *Repository) { r.metrics = m } }

// WithRecorder observes operation durations.
func WithRecorder(rec telemetry.Recorder) Option { return func(r *Repository) { r.recorder = rec } }

// WithSnapshotKey overrides the durable store key.
func WithSnapshotKey(key string) Option {
	return func(r *Repository) {
		if key != "" {
			r.key = key
		}
	}
}

// WithClock overrides the time source for created_at defaults.
func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

// WithIDGenerator overrides accession id generation.
func WithIDGenerator(gen func() string) Option { return func(r *Repository) { r.newID = gen } }

// New returns a Repository over owner. A nil store disables persistence.
func New(owner EngineOwner, store blob.Store, opts ...Option) *Repository {
	r := &Repository{
		owner:    owner,
		store:    store,
		key:      defaultSnapshotKey,
		log:      zerolog.Nop(),
		validate: validator.New(),
		now:      time.Now,
		newID:    uuid.NewString,
		changes:  broadcast.NewFeed[domain.Change](64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Changes returns a feed of committed mutations starting now.
func (r *Repository) Changes(ctx context.Context) <-chan domain.Change {
	return r.changes.Subscribe(ctx)
}

// SnapshotKey returns the durable store key.
func (r *Repository) SnapshotKey() string { return r.key }

// Save exports the active engine and blocks until the durable store has
// acknowledged it.
func (r *Repository) Save(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	start := time.Now()
	var image []byte
	err := r.owner.WithEngine(ctx, func(eng *engine.Engine) error {
		var err error
		image, err = eng.Export(ctx)
		return err
	})
	if err != nil {
		err = fmt.Errorf("export snapshot: %w", err)
		r.recordPersist(err, 0, start)
		return err
	}
	return r.put(ctx, image, start)
}

// Persist stores image as the durable snapshot, serialized with every other
// snapshot write.
func (r *Repository) Persist(ctx context.Context, image []byte) error {
	if r.store == nil {
		return nil
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	return r.put(ctx, image, time.Now())
}

func (r *Repository) put(ctx context.Context, image []byte, start time.Time) error {
	_, err := r.store.Put(ctx, r.key, image, blob.PutOptions{
		ContentType: SnapshotContentType,
		Metadata:    map[string]string{"schema_version": entitymodel.Version()},
	})
	if err != nil {
		err = fmt.Errorf("store snapshot: %w", err)
	}
	r.recordPersist(err, len(image), start)
	return err
}

func (r *Repository) recordPersist(err error, size int, start time.Time) {
	took := time.Since(start)
	r.metrics.Persist(err, size, took)
	if err != nil {
		r.log.Warn().Err(err).Str("key", r.key).Msg("snapshot persist failed")
		return
	}
	r.log.Debug().Str("key", r.key).Str("size", humanize.Bytes(uint64(size))).Dur("took", took).Msg("snapshot persisted")
}

// persistAsync schedules a snapshot write. Failures are logged and counted;
// the originating write has already committed.
// TODO: coalesce bursts of writes into one export once callers no longer
// rely on a persist per write.
func (r *Repository) persistAsync(ctx context.Context) {
	if r.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		_ = r.Save(ctx)
	}()
}

// Flush waits for every scheduled snapshot write.
func (r *Repository) Flush() { r.pending.Wait() }

// Close flushes pending snapshot writes and ends the change feed.
func (r *Repository) Close() {
	r.Flush()
	r.changes.Close()
}

func (r *Repository) committed(ctx context.Context, entity domain.EntityType, action domain.Action, ids ...string) {
	r.persistAsync(ctx)
	for _, id := range ids {
		r.publish(entity, action, id)
	}
}

func (r *Repository) publish(entity domain.EntityType, action domain.Action, id string) {
	r.metrics.Write(string(entity), string(action))
	r.changes.Publish(domain.Change{Entity: entity, Action: action, AccessionID: id, At: r.now().UTC()})
}

func (r *Repository) observe(ctx context.Context, op string, start time.Time, err error) {
	if r.recorder != nil {
		r.recorder.Observe(ctx, op, err == nil, time.Since(start))
	}
}

func (r *Repository) check(entity domain.EntityType, v any) error {
	if err := r.validate.Struct(v); err != nil {
		return &ValidationError{Entity: entity, Err: err}
	}
	return nil
}

func list[T any](ctx context.Context, r *Repository, m entitymodel.Model[T], filters ...Filter) (out []T, err error) {
	defer func(start time.Time) { r.observe(ctx, "list_"+string(m.Entity), start, err) }(time.Now())
	err = r.owner.WithEngine(ctx, func(eng *engine.Engine) error {
		b, ok, err := entitymodel.Bind(ctx, eng, m.Table)
		if err != nil {
			return err
		}
		if !ok {
			out = []T{}
			return nil
		}
		recs, err := b.Select(ctx, eng, filters...)
		if err != nil {
			return err
		}
		out = m.Entities(recs)
		return nil
	})
	return out, err
}

func get[T any](ctx context.Context, r *Repository, m entitymodel.Model[T], id string) (T, error) {
	var zero T
	items, err := list(ctx, r, m, Where(entitymodel.IDColumn, id))
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, ErrNotFound{Entity: m.Entity, ID: id}
	}
	return items[0], nil
}

func create[T any](ctx context.Context, r *Repository, m entitymodel.Model[T], item T, defaults func(*T)) (_ T, err error) {
	defer func(start time.Time) { r.observe(ctx, "create_"+string(m.Entity), start, err) }(time.Now())
	var zero T
	if m.ID(item) == "" {
		m.SetID(&item, r.newID())
	}
	if defaults != nil {
		defaults(&item)
	}
	if err := r.check(m.Entity, item); err != nil {
		return zero, err
	}
	err = r.owner.WithEngine(ctx, func(eng *engine.Engine) error {
		return entitymodel.InTx(ctx, eng, func() error {
			return entitymodel.InsertAll(ctx, eng, m, item)
		})
	})
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", m.Entity, err)
	}
	r.committed(ctx, m.Entity, domain.ActionCreate, m.ID(item))
	return item, nil
}

func update[T any](ctx context.Context, r *Repository, m entitymodel.Model[T], id string, mutate func(*T) error) (_ T, err error) {
	defer func(start time.Time) { r.observe(ctx, "update_"+string(m.Entity), start, err) }(time.Now())
	var updated T
	err = r.owner.WithEngine(ctx, func(eng *engine.Engine) error {
		return entitymodel.InTx(ctx, eng, func() error {
			b, ok, err := entitymodel.Bind(ctx, eng, m.Table)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotFound{Entity: m.Entity, ID: id}
			}
			recs, err := b.Select(ctx, eng, Where(entitymodel.IDColumn, id))
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return ErrNotFound{Entity: m.Entity, ID: id}
			}
			current := m.FromRecord(recs[0])
			if err := mutate(&current); err != nil {
				return err
			}
			m.SetID(&current, id)
			if err := r.check(m.Entity, current); err != nil {
				return err
			}
			if _, err := b.Update(ctx, eng, m.ToRecord(current)); err != nil {
				return err
			}
			updated = current
			return nil
		})
	})
	if err != nil {
		var zero T
		return zero, err
	}
	r.committed(ctx, m.Entity, domain.ActionUpdate, id)
	return updated, nil
}

func remove[T any](ctx context.Context, r *Repository, m entitymodel.Model[T], id string) (err error) {
	defer func(start time.Time) { r.observe(ctx, "delete_"+string(m.Entity), start, err) }(time.Now())
	err = r.owner.WithEngine(ctx, func(eng *engine.Engine) error {
		return entitymodel.InTx(ctx, eng, func() error {
			b, ok, err := entitymodel.Bind(ctx, eng, m.Table)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotFound{Entity: m.Entity, ID: id}
			}
			existed, err := b.Delete(ctx, eng, id)
			if err != nil {
				return err
			}
			if !existed {
				return ErrNotFound{Entity: m.Entity, ID: id}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	r.committed(ctx, m.Entity, domain.ActionDelete, id)
	return nil
}
