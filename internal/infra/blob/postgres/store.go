// Package postgres implements a blob Store on a Postgres table so snapshots
// survive on shared infrastructure.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"praxis/internal/blob/core"
	"praxis/internal/entitymodel/sqlbundle"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/praxis?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists blobs as rows of the snapshots table.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed store using dsn (falls back to a local default)
// and applies the snapshots DDL.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewWithDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle.
func NewWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.Postgres()) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() core.Driver { return core.DriverPostgres }

func (s *Store) Put(ctx context.Context, key string, data []byte, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	md, err := json.Marshal(opts.Metadata)
	if err != nil {
		return core.Info{}, fmt.Errorf("encode metadata: %w", err)
	}
	now := time.Now().UTC()
	payload := append([]byte(nil), data...)
	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots (key, payload, content_type, metadata, updated_at) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (key) DO UPDATE SET payload=EXCLUDED.payload, content_type=EXCLUDED.content_type, metadata=EXCLUDED.metadata, updated_at=EXCLUDED.updated_at`,
		key, payload, opts.ContentType, string(md), now)
	if err != nil {
		return core.Info{}, fmt.Errorf("upsert %s: %w", key, err)
	}
	return core.Info{Key: key, Size: int64(len(data)), ContentType: opts.ContentType, Metadata: core.CloneMetadata(opts.Metadata), LastModified: now}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, core.Info, error) {
	rows, err := s.query(ctx, `SELECT key, payload, content_type, metadata, updated_at FROM snapshots WHERE key = $1`, key)
	if err != nil {
		return nil, core.Info{}, err
	}
	if len(rows) == 0 {
		return nil, core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return rows[0].payload, rows[0].info, nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	_, info, err := s.Get(ctx, key)
	return info, err
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	rows, err := s.query(ctx, `SELECT key, payload, content_type, metadata, updated_at FROM snapshots WHERE key LIKE $1 ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]core.Info, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.info)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

type row struct {
	payload []byte
	info    core.Info
}

func (s *Store) query(ctx context.Context, q string, arg any) ([]row, error) {
	rs, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rs.Close() }()
	var out []row
	for rs.Next() {
		var (
			r  row
			md string
		)
		if err := rs.Scan(&r.info.Key, &r.payload, &r.info.ContentType, &md, &r.info.LastModified); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if md != "" && md != "null" {
			if err := json.Unmarshal([]byte(md), &r.info.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata %s: %w", r.info.Key, err)
			}
		}
		r.info.Size = int64(len(r.payload))
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// likePrefix escapes LIKE wildcards in prefix and appends %.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

var _ core.Store = (*Store)(nil)
