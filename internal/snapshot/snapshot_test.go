package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"praxis/internal/blob"
	"praxis/internal/engine"
	"praxis/internal/fixtures"
	"praxis/internal/pipeline"
	"praxis/internal/repository"
	"praxis/pkg/domain"
)

var exportTime = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

type env struct {
	p     *pipeline.Pipeline
	repo  *repository.Repository
	io    *IO
	store *blob.MemoryStore
	logs  *bytes.Buffer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	probe, err := engine.OpenEmpty(context.Background())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	_ = probe.Close()
	p := pipeline.New(pipeline.ResolverFunc(func(ctx context.Context) (*engine.Engine, domain.Origin, error) {
		eng, err := engine.OpenEmpty(ctx)
		if err != nil {
			return nil, "", err
		}
		if err := fixtures.Legacy().Load(ctx, eng); err != nil {
			_ = eng.Close()
			return nil, "", err
		}
		return eng, domain.OriginLegacy, nil
	}))
	store := blob.NewMemory()
	repo := repository.New(p, store)
	logs := &bytes.Buffer{}
	io := New(p, repo, WithLogger(zerolog.New(logs)), WithClock(func() time.Time { return exportTime }))
	t.Cleanup(func() {
		repo.Close()
		_ = p.Close()
	})
	return &env{p: p, repo: repo, io: io, store: store, logs: logs}
}

func TestBackupName(t *testing.T) {
	if got := BackupName(exportTime.In(time.FixedZone("x", 3600))); got != "praxis-backup-20250203T040506Z.db" {
		t.Fatalf("name = %s", got)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	backup, err := e.io.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if backup.Name != "praxis-backup-20250203T040506Z.db" || len(backup.Data) == 0 {
		t.Fatalf("backup = %s (%d bytes)", backup.Name, len(backup.Data))
	}

	if _, err := e.repo.CreateMachine(ctx, domain.Machine{Name: "after export"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	e.repo.Flush()

	sub := e.p.Subscribe(ctx)
	<-sub
	if err := e.io.Import(ctx, backup.Data); err != nil {
		t.Fatalf("import: %v", err)
	}
	select {
	case s := <-sub:
		if !s.Ready() || *s.Source != domain.OriginPersisted {
			t.Fatalf("status after import = %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("import did not re-emit status")
	}
	machines, err := e.repo.ListMachines(ctx)
	if err != nil || len(machines) != fixtures.Legacy().Counts()[domain.EntityMachine] {
		t.Fatalf("machines after import = %d %v", len(machines), err)
	}
	stored, _, err := e.store.Get(ctx, e.repo.SnapshotKey())
	if err != nil || !bytes.Equal(stored, backup.Data) {
		t.Fatalf("imported bytes should be persisted: %v", err)
	}
}

func TestInvalidImportKeepsActiveDatabase(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	before, err := e.repo.ListProtocols(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string][]byte{
		"garbage": bytes.Repeat([]byte{0x42}, 100),
		"empty":   nil,
	}
	unrelated, err := engine.OpenEmpty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := unrelated.Exec(ctx, "CREATE TABLE notes (id INTEGER)"); err != nil {
		t.Fatal(err)
	}
	cases["unrelated"], err = unrelated.Export(ctx)
	_ = unrelated.Close()
	if err != nil {
		t.Fatal(err)
	}
	for name, data := range cases {
		if err := e.io.Import(ctx, data); !errors.Is(err, ErrInvalidSnapshot) {
			t.Fatalf("%s: expected ErrInvalidSnapshot, got %v", name, err)
		}
	}
	after, err := e.repo.ListProtocols(ctx)
	if err != nil || len(after) != len(before) {
		t.Fatalf("active database changed: %d -> %d (%v)", len(before), len(after), err)
	}
	if e.p.Origin() != domain.OriginLegacy {
		t.Fatalf("origin = %s", e.p.Origin())
	}
}

func TestImportSucceedsWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	backup, err := e.io.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	e.store.FailPuts(errors.New("disk full"))
	if err := e.io.Import(ctx, backup.Data); err != nil {
		t.Fatalf("import should succeed: %v", err)
	}
	if !strings.Contains(e.logs.String(), "imported database not persisted") {
		t.Fatalf("persist failure not logged:\n%s", e.logs.String())
	}
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	backup, err := e.io.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	path, err := e.io.ExportTo(ctx, DirOfferer{Dir: filepath.Join(t.TempDir(), "out")})
	if err != nil {
		t.Fatalf("export to dir: %v", err)
	}
	if filepath.Base(path) != backup.Name {
		t.Fatalf("path = %s", path)
	}
	if err := e.io.ImportFile(ctx, path); err != nil {
		t.Fatalf("import file: %v", err)
	}
	if err := e.io.ImportFile(ctx, filepath.Join(t.TempDir(), "missing.db")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file = %v", err)
	}
}

func TestBlobOfferer(t *testing.T) {
	ctx := context.Background()
	b := Backup{Name: "praxis-backup-x.db", Data: []byte("image")}

	mem := blob.NewMemory()
	loc, err := BlobOfferer{Store: mem, Prefix: "exports"}.Offer(ctx, b)
	if err != nil || loc != "exports/praxis-backup-x.db" {
		t.Fatalf("memory offer = %q %v", loc, err)
	}
	data, info, err := mem.Get(ctx, loc)
	if err != nil || string(data) != "image" || info.ContentType != ContentType {
		t.Fatalf("stored backup = %q %+v %v", data, info, err)
	}

	fs, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	loc, err = BlobOfferer{Store: fs}.Offer(ctx, b)
	if err != nil || !strings.HasSuffix(loc, "backups/praxis-backup-x.db") || !strings.HasPrefix(loc, "http") {
		t.Fatalf("presigned offer = %q %v", loc, err)
	}

	if _, err := (BlobOfferer{}).Offer(ctx, b); err == nil {
		t.Fatalf("offer without store should fail")
	}
}

func TestExportFailsAfterInitError(t *testing.T) {
	boom := errors.New("boom")
	p := pipeline.New(pipeline.ResolverFunc(func(context.Context) (*engine.Engine, domain.Origin, error) {
		return nil, "", boom
	}))
	defer func() { _ = p.Close() }()
	io := New(p, nil)
	if _, err := io.Export(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("export = %v", err)
	}
	called := false
	_, err := io.ExportTo(context.Background(), OffererFunc(func(context.Context, Backup) (string, error) {
		called = true
		return "", nil
	}))
	if err == nil || called {
		t.Fatalf("offerer must not run when export fails")
	}
}
