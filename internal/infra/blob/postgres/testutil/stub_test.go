package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	for _, key := range []string{"b/2", "a/1", "b/1"} {
		if _, err := conn.ExecContext(ctx, "INSERT INTO snapshots (key, payload) VALUES ($1,$2)", []driver.NamedValue{{Value: key}, {Value: []byte(key)}}); err != nil {
			t.Fatalf("insert %s: %v", key, err)
		}
	}

	rows, err := conn.QueryContext(ctx, "SELECT key, payload FROM snapshots WHERE key LIKE $1 ORDER BY key", []driver.NamedValue{{Value: "b/%"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	var keys []string
	for rows.Next(dest) == nil {
		keys = append(keys, dest[0].(string))
	}
	if len(keys) != 2 || keys[0] != "b/1" || keys[1] != "b/2" {
		t.Fatalf("unexpected keys %v", keys)
	}

	res, err := conn.ExecContext(ctx, "DELETE FROM snapshots WHERE key = $1", []driver.NamedValue{{Value: "a/1"}})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected one row deleted, got %d", n)
	}
	res, err = conn.ExecContext(ctx, "DELETE FROM snapshots", nil)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 2 || len(conn.Rows("snapshots")) != 0 {
		t.Fatalf("expected table cleared, affected %d", n)
	}
}

func TestStubUpsertReplacesPrimary(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	q := "INSERT INTO snapshots (key, payload) VALUES ($1,$2) ON CONFLICT (key) DO UPDATE SET payload=EXCLUDED.payload"
	for _, v := range []string{"one", "two"} {
		if _, err := conn.ExecContext(ctx, q, []driver.NamedValue{{Value: "k"}, {Value: v}}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	rows := conn.Rows("snapshots")
	if len(rows) != 1 || rows[0]["payload"] != "two" {
		t.Fatalf("unexpected rows %v", rows)
	}
}
