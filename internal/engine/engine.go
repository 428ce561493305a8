// Package engine wraps a single embedded SQLite database instance. An Engine
// owns exactly one connection so that plain-SQL BEGIN/COMMIT pairs issued by
// callers always reach the same database. Engines are not safe for concurrent
// use; the owner serializes access.
package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const driverName = "sqlite"

// imageHeader prefixes every SQLite database file.
var imageHeader = []byte("SQLite format 3\x00")

var (
	// ErrInvalidImage reports bytes that cannot be opened as a database.
	ErrInvalidImage = errors.New("engine: invalid database image")
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine: closed")
)

var sqlOpen = sql.Open

// Engine is the exclusive owner of one embedded database.
type Engine struct {
	db       *sql.DB
	conn     *sql.Conn
	tempPath string
	closed   bool
}

// OpenEmpty constructs a fresh in-memory database.
func OpenEmpty(ctx context.Context) (*Engine, error) {
	e, err := open(ctx, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open empty engine: %w", err)
	}
	return e, nil
}

// OpenBytes constructs a database from a serialized image. It fails with
// ErrInvalidImage when the bytes are empty, lack the SQLite header or do not
// pass a quick integrity check.
func OpenBytes(ctx context.Context, image []byte) (*Engine, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if !bytes.HasPrefix(image, imageHeader) {
		return nil, fmt.Errorf("%w: missing sqlite header", ErrInvalidImage)
	}
	e, err := open(ctx, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	buf := append([]byte(nil), image...)
	err = e.conn.Raw(func(dc any) error {
		d, ok := dc.(deserializer)
		if !ok {
			return errDeserializeUnsupported
		}
		return d.Deserialize(buf)
	})
	if errors.Is(err, errDeserializeUnsupported) {
		_ = e.Close()
		e, err = openFileImage(ctx, image)
	}
	if err != nil {
		if e != nil {
			_ = e.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := e.verify(ctx); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return e, nil
}

func open(ctx context.Context, dsn string) (*Engine, error) {
	db, err := sqlOpen(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Engine{db: db, conn: conn}, nil
}

// openFileImage backs the engine with a private temporary file when the
// driver cannot deserialize into memory.
func openFileImage(ctx context.Context, image []byte) (*Engine, error) {
	dir, err := os.MkdirTemp("", "praxis-engine-*")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "image.db")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	e, err := open(ctx, path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	e.tempPath = dir
	return e, nil
}

func (e *Engine) verify(ctx context.Context) error {
	var result string
	if err := e.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	return nil
}

// Exec runs a single statement. Statements that produce rows return them;
// everything else returns an empty ResultSet.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (ResultSet, error) {
	if e.closed {
		return ResultSet{}, ErrClosed
	}
	if returnsRows(query) {
		return e.Query(ctx, query, args...)
	}
	if _, err := e.conn.ExecContext(ctx, query, args...); err != nil {
		return ResultSet{}, err
	}
	return ResultSet{}, nil
}

// ExecScript runs a multi-statement script such as a schema bootstrap. The
// driver executes every statement of the string in order, so trigger bodies
// and other compound statements stay intact.
func (e *Engine) ExecScript(ctx context.Context, script string) error {
	if e.closed {
		return ErrClosed
	}
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := e.conn.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// Query runs a row-returning statement.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (ResultSet, error) {
	if e.closed {
		return ResultSet{}, ErrClosed
	}
	rows, err := e.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return ResultSet{}, err
	}
	defer func() { _ = rows.Close() }()
	return scanAll(rows)
}

// Prepare compiles a parameterized statement.
func (e *Engine) Prepare(ctx context.Context, query string) (*Statement, error) {
	if e.closed {
		return nil, ErrClosed
	}
	stmt, err := e.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Statement{stmt: stmt, query: query}, nil
}

// TableExists reports whether a table named name exists.
func (e *Engine) TableExists(ctx context.Context, name string) (bool, error) {
	rs, err := e.Query(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name = ?", name)
	if err != nil {
		return false, err
	}
	return len(rs.Rows) > 0, nil
}

// Tables lists user tables in name order.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	rs, err := e.Query(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if name, ok := row[0].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Columns lists the column names of table.
func (e *Engine) Columns(ctx context.Context, table string) ([]string, error) {
	rs, err := e.Query(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if name, ok := row[0].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Export serializes the whole database in the native on-disk format.
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	if e.closed {
		return nil, ErrClosed
	}
	var image []byte
	err := e.conn.Raw(func(dc any) error {
		s, ok := dc.(serializer)
		if !ok {
			return errSerializeUnsupported
		}
		var err error
		image, err = s.Serialize()
		return err
	})
	if errors.Is(err, errSerializeUnsupported) {
		return e.vacuumExport(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return image, nil
}

// vacuumExport writes a compacted copy through VACUUM INTO and reads it back.
func (e *Engine) vacuumExport(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "praxis-export-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()
	path := filepath.Join(dir, "export.db")
	if _, err := e.conn.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	return os.ReadFile(path)
}

// Close releases the connection and any private backing file.
func (e *Engine) Close() error {
	if e == nil || e.closed {
		return nil
	}
	e.closed = true
	err := errors.Join(e.conn.Close(), e.db.Close())
	if e.tempPath != "" {
		_ = os.RemoveAll(e.tempPath)
	}
	return err
}

func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "PRAGMA", "WITH", "VALUES", "EXPLAIN"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return strings.Contains(q, " RETURNING ")
}

type serializer interface {
	Serialize() ([]byte, error)
}

type deserializer interface {
	Deserialize([]byte) error
}

var (
	errSerializeUnsupported   = errors.New("driver cannot serialize")
	errDeserializeUnsupported = errors.New("driver cannot deserialize")
)
