package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	badgerstore "praxis/internal/infra/blob/badger"
	fsstore "praxis/internal/infra/blob/fs"
	memorystore "praxis/internal/infra/blob/memory"
	pgstore "praxis/internal/infra/blob/postgres"
	s3store "praxis/internal/infra/blob/s3"
	sqlitestore "praxis/internal/infra/blob/sqlite"
)

type (
	// S3Config re-exports the S3 driver configuration.
	S3Config = s3store.Config
	// BadgerConfig re-exports the badger driver configuration.
	BadgerConfig = badgerstore.Config
	// MemoryStore is the in-process driver, exposed for tests that inject
	// write failures.
	MemoryStore = memorystore.Store
)

// Config selects and configures the durable snapshot store.
type Config struct {
	Driver      string       `koanf:"driver"`
	FSRoot      string       `koanf:"fs_root"`
	SQLitePath  string       `koanf:"sqlite_path"`
	PostgresDSN string       `koanf:"postgres_dsn"`
	S3          S3Config     `koanf:"s3"`
	Badger      BadgerConfig `koanf:"badger"`
}

// Open constructs the Store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = DriverFilesystem
	}
	log = log.With().Str("blob_driver", string(driver)).Logger()
	var (
		store Store
		err   error
	)
	switch driver {
	case DriverFilesystem:
		store, err = NewFilesystem(cfg.FSRoot)
	case DriverMemory:
		store = NewMemory()
	case DriverS3:
		store, err = s3store.New(ctx, cfg.S3)
	case DriverPostgres:
		store, err = pgstore.New(ctx, cfg.PostgresDSN)
	case DriverBadger:
		store, err = badgerstore.New(cfg.Badger, log)
	case DriverSQLite:
		store, err = sqlitestore.New(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s blob store: %w", driver, err)
	}
	log.Debug().Msg("blob store ready")
	return store, nil
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() *MemoryStore { return memorystore.New() }

// NewFilesystem returns a Store rooted at dir.
func NewFilesystem(dir string) (Store, error) { return fsstore.New(dir) }

// NewMockS3ForTests exposes the in-memory S3 mock for cross-package tests.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }

// Close releases store resources when the driver holds any.
func Close(store Store) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
