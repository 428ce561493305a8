// Package sqlite implements a blob Store as a key/value table in an SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"praxis/internal/blob/core"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store keeps blobs in a single state table.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the SQLite file at path.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "praxis-state.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() core.Driver { return core.DriverSQLite }

func (s *Store) Put(ctx context.Context, key string, data []byte, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	md, err := json.Marshal(opts.Metadata)
	if err != nil {
		return core.Info{}, err
	}
	if data == nil {
		data = []byte{}
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO state(key,payload,content_type,metadata,updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, content_type=excluded.content_type, metadata=excluded.metadata, updated_at=excluded.updated_at`,
		key, data, opts.ContentType, string(md), now.Format(time.RFC3339Nano)); err != nil {
		return core.Info{}, fmt.Errorf("upsert %s: %w", key, err)
	}
	return core.Info{Key: key, Size: int64(len(data)), ContentType: opts.ContentType, Metadata: core.CloneMetadata(opts.Metadata), LastModified: now}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, core.Info, error) {
	var (
		payload []byte
		ct, md  string
		ts      string
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, content_type, metadata, updated_at FROM state WHERE key = ?`, key).Scan(&payload, &ct, &md, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return nil, core.Info{}, fmt.Errorf("select %s: %w", key, err)
	}
	info, err := decodeInfo(key, int64(len(payload)), ct, md, ts)
	if err != nil {
		return nil, core.Info{}, err
	}
	return payload, info, nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	var (
		size       int64
		ct, md, ts string
	)
	err := s.db.QueryRowContext(ctx, `SELECT length(payload), content_type, metadata, updated_at FROM state WHERE key = ?`, key).Scan(&size, &ct, &md, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("select %s: %w", key, err)
	}
	return decodeInfo(key, size, ct, md, ts)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, length(payload), content_type, metadata, updated_at FROM state WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Info
	for rows.Next() {
		var (
			key, ct, md, ts string
			size            int64
		)
		if err := rows.Scan(&key, &size, &ct, &md, &ts); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		info, err := decodeInfo(key, size, ct, md, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func decodeInfo(key string, size int64, ct, md, ts string) (core.Info, error) {
	info := core.Info{Key: key, Size: size, ContentType: ct}
	if md != "" && md != "null" {
		if err := json.Unmarshal([]byte(md), &info.Metadata); err != nil {
			return core.Info{}, fmt.Errorf("decode metadata %s: %w", key, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		info.LastModified = t
	}
	return info, nil
}

var _ core.Store = (*Store)(nil)
