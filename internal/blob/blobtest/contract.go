// Package blobtest holds the behavioural contract every blob driver must satisfy.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"praxis/internal/blob/core"
)

// Exercise runs the shared Get/Put/Delete/Clear contract against store.
// The store must be empty on entry.
func Exercise(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "praxis-db/snapshot"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get missing: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "praxis-db/snapshot"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head missing: expected ErrNotFound, got %v", err)
	}
	if ok, err := store.Delete(ctx, "praxis-db/snapshot"); err != nil || ok {
		t.Fatalf("delete missing: %v %v", ok, err)
	}

	first := []byte("SQLite format 3\x00\r\n first image")
	info, err := store.Put(ctx, "praxis-db/snapshot", first, core.PutOptions{ContentType: "application/vnd.sqlite3", Metadata: map[string]string{"origin": "schema"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "praxis-db/snapshot" || info.Size != int64(len(first)) {
		t.Fatalf("unexpected put info %+v", info)
	}
	second := bytes.Repeat([]byte{0x00, 0x0d, 0x0a, 0xff}, 64)
	if _, err := store.Put(ctx, "praxis-db/snapshot", second, core.PutOptions{ContentType: "application/vnd.sqlite3"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ginfo, err := store.Get(ctx, "praxis-db/snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Fatalf("get returned %d bytes, want the overwritten %d", len(got), len(second))
	}
	if ginfo.Size != int64(len(second)) {
		t.Fatalf("get info size %d", ginfo.Size)
	}
	got[0] = 0x42
	again, _, err := store.Get(ctx, "praxis-db/snapshot")
	if err != nil || again[0] != second[0] {
		t.Fatalf("stored bytes must not alias returned slice")
	}

	if _, err := store.Put(ctx, "praxis-db/other", []byte("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	if _, err := store.Put(ctx, "exports/one", []byte("y"), core.PutOptions{}); err != nil {
		t.Fatalf("put export: %v", err)
	}
	list, err := store.List(ctx, "praxis-db/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "praxis-db/other" || list[1].Key != "praxis-db/snapshot" {
		t.Fatalf("unexpected list %+v", list)
	}

	if ok, err := store.Delete(ctx, "praxis-db/other"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, _, err := store.Get(ctx, "praxis-db/snapshot"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("after clear expected ErrNotFound, got %v", err)
	}
	if all, err := store.List(ctx, ""); err != nil || len(all) != 0 {
		t.Fatalf("after clear expected empty list: %v %v", all, err)
	}
	if _, err := store.Put(ctx, "praxis-db/snapshot", first, core.PutOptions{}); err != nil {
		t.Fatalf("put after clear: %v", err)
	}
}
