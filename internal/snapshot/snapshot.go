// Package snapshot exports the active database as a downloadable backup and
// imports a backup by building a new engine before swapping it in.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"praxis/internal/engine"
	"praxis/internal/entitymodel"
	"praxis/internal/telemetry"
	"praxis/pkg/domain"
)

// ErrInvalidSnapshot is returned when imported bytes are not a usable
// praxis database. The active database is left untouched.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// NamePrefix starts every backup file name.
const NamePrefix = "praxis-backup-"

const nameLayout = "20060102T150405Z"

// Backup is an exported database image.
type Backup struct {
	Name string
	Data []byte
}

// Owner lends and replaces the active engine.
type Owner interface {
	WithEngine(ctx context.Context, fn func(*engine.Engine) error) error
	Replace(ctx context.Context, eng *engine.Engine, origin domain.Origin) error
}

// Persister writes an image to the durable store.
type Persister interface {
	Persist(ctx context.Context, image []byte) error
}

// IO exports and imports whole-database snapshots.
type IO struct {
	owner     Owner
	persister Persister
	log       zerolog.Logger
	recorder  telemetry.Recorder
	now       func() time.Time
}

// Option configures an IO.
type Option func(*IO)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(s *IO) { s.log = log } }

// WithRecorder observes export and import durations.
func WithRecorder(rec telemetry.Recorder) Option { return func(s *IO) { s.recorder = rec } }

// WithClock overrides the time used to name backups.
func WithClock(now func() time.Time) Option { return func(s *IO) { s.now = now } }

// New returns an IO over owner. persister may be nil, in which case imports
// are not made durable.
func New(owner Owner, persister Persister, opts ...Option) *IO {
	s := &IO{owner: owner, persister: persister, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BackupName returns the file name used for a backup taken at t.
func BackupName(t time.Time) string {
	return NamePrefix + t.UTC().Format(nameLayout) + ".db"
}

// Export serializes the active database.
func (s *IO) Export(ctx context.Context) (b Backup, err error) {
	defer func(start time.Time) { s.observe(ctx, "snapshot_export", start, err) }(time.Now())
	err = s.owner.WithEngine(ctx, func(eng *engine.Engine) error {
		data, err := eng.Export(ctx)
		if err != nil {
			return err
		}
		b = Backup{Name: BackupName(s.now()), Data: data}
		return nil
	})
	if err != nil {
		return Backup{}, fmt.Errorf("export: %w", err)
	}
	s.log.Info().Str("name", b.Name).Str("size", humanize.Bytes(uint64(len(b.Data)))).Msg("database exported")
	return b, nil
}

// ExportTo exports the active database and hands it to o, returning where
// the backup can be retrieved.
func (s *IO) ExportTo(ctx context.Context, o Offerer) (string, error) {
	b, err := s.Export(ctx)
	if err != nil {
		return "", err
	}
	location, err := o.Offer(ctx, b)
	if err != nil {
		return "", fmt.Errorf("offer %s: %w", b.Name, err)
	}
	return location, nil
}

// Import replaces the active database with data. The new engine is fully
// built and validated before the swap; on any failure the previous database
// stays active. A failure to make the import durable is logged only.
func (s *IO) Import(ctx context.Context, data []byte) (err error) {
	defer func(start time.Time) { s.observe(ctx, "snapshot_import", start, err) }(time.Now())
	eng, err := engine.OpenBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	ok, err := entitymodel.HasEntityTable(ctx, eng)
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if !ok {
		_ = eng.Close()
		return fmt.Errorf("%w: no praxis tables found", ErrInvalidSnapshot)
	}
	if err := s.owner.Replace(ctx, eng, domain.OriginPersisted); err != nil {
		_ = eng.Close()
		return fmt.Errorf("import: %w", err)
	}
	s.log.Info().Str("size", humanize.Bytes(uint64(len(data)))).Msg("database imported")
	if s.persister != nil {
		if err := s.persister.Persist(ctx, data); err != nil {
			s.log.Warn().Err(err).Msg("imported database not persisted")
		}
	}
	return nil
}

// ImportFile imports the backup stored at path.
func (s *IO) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	return s.Import(ctx, data)
}

func (s *IO) observe(ctx context.Context, op string, start time.Time, err error) {
	if s.recorder != nil {
		s.recorder.Observe(ctx, op, err == nil, time.Since(start))
	}
}
