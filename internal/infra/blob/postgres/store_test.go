package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"praxis/internal/blob/blobtest"
	"praxis/internal/blob/core"
	"praxis/internal/infra/blob/postgres/testutil"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	store, err := NewWithDB(context.Background(), db)
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestStoreContract(t *testing.T) {
	store, _ := newStubStore(t)
	blobtest.Exercise(t, store)
}

func TestNewAppliesDDL(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" || dsn != defaultDSN {
			t.Errorf("unexpected open %s %s", driverName, dsn)
		}
		return db, nil
	})
	defer restore()

	store, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Driver() != core.DriverPostgres || store.DB() != db {
		t.Fatalf("unexpected store wiring")
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS SNAPSHOTS") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected snapshots DDL, got %v", conn.Execs)
	}
}

func TestNewFailures(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := New(context.Background(), "postgres://x"); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	if _, err := NewWithDB(context.Background(), db); err == nil {
		t.Fatalf("expected ping error")
	}
	db2, conn2 := testutil.NewStubDB()
	conn2.FailExec = true
	if _, err := NewWithDB(context.Background(), db2); err == nil {
		t.Fatalf("expected ddl error")
	}
}

func TestMetadataAndUpsert(t *testing.T) {
	ctx := context.Background()
	store, conn := newStubStore(t)
	if _, err := store.Put(ctx, "praxis-db/snapshot", []byte("a"), core.PutOptions{ContentType: "application/vnd.sqlite3", Metadata: map[string]string{"origin": "legacy"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "praxis-db/snapshot", []byte("bb"), core.PutOptions{Metadata: map[string]string{"origin": "schema"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rows := conn.Rows("snapshots"); len(rows) != 1 {
		t.Fatalf("upsert should keep one row, got %d", len(rows))
	}
	info, err := store.Head(ctx, "praxis-db/snapshot")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Size != 2 || info.Metadata["origin"] != "schema" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.PresignURL(ctx, "praxis-db/snapshot", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
}

func TestQueryFailuresSurface(t *testing.T) {
	ctx := context.Background()
	store, conn := newStubStore(t)
	conn.FailQuery = true
	if _, _, err := store.Get(ctx, "k"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected query error, got %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list error")
	}
	conn.FailQuery = false
	conn.FailExec = true
	if _, err := store.Put(ctx, "k", []byte("v"), core.PutOptions{}); err == nil {
		t.Fatalf("expected put error")
	}
	if err := store.Clear(ctx); err == nil {
		t.Fatalf("expected clear error")
	}
	if _, err := store.Put(ctx, "", []byte("v"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestLikePrefixEscapes(t *testing.T) {
	if got := likePrefix(`a_b%c\`); got != `a\_b\%c\\%` {
		t.Fatalf("likePrefix = %q", got)
	}
	if got := likePrefix(""); got != "%" {
		t.Fatalf("empty prefix = %q", got)
	}
}
