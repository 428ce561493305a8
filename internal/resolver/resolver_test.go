package resolver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"praxis/internal/assets"
	"praxis/internal/blob"
	"praxis/internal/engine"
	"praxis/internal/entitymodel"
	"praxis/internal/fixtures"
	"praxis/pkg/domain"
)

func buildImage(t *testing.T, script string) []byte {
	t.Helper()
	ctx := context.Background()
	e, err := engine.OpenEmpty(ctx)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = e.Close() }()
	if err := e.ExecScript(ctx, script); err != nil {
		t.Fatalf("build image: %v", err)
	}
	image, err := e.Export(ctx)
	if err != nil {
		t.Fatalf("export image: %v", err)
	}
	return image
}

type fakeAssets struct {
	calls     map[string]*atomic.Int32
	responses map[string]assets.Response
	errs      map[string]error
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{
		calls:     map[string]*atomic.Int32{assets.PrebuiltPath: {}, assets.SchemaPath: {}},
		responses: map[string]assets.Response{},
		errs:      map[string]error{},
	}
}

func (f *fakeAssets) Fetch(_ context.Context, path string) (assets.Response, error) {
	if c, ok := f.calls[path]; ok {
		c.Add(1)
	}
	if err := f.errs[path]; err != nil {
		return assets.Response{}, err
	}
	if resp, ok := f.responses[path]; ok {
		return resp, nil
	}
	return assets.Response{Status: http.StatusNotFound}, nil
}

func (f *fakeAssets) count(path string) int32 { return f.calls[path].Load() }

func count(t *testing.T, e *engine.Engine, table string) int64 {
	t.Helper()
	rs, err := e.Query(context.Background(), "SELECT COUNT(*) FROM "+table)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return rs.Rows[0][0].(int64)
}

func TestPersistedSnapshotSkipsPrebuiltFetch(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	image := buildImage(t, "CREATE TABLE machines (accession_id TEXT PRIMARY KEY, name TEXT);\nINSERT INTO machines VALUES ('m1', 'STAR');")
	if _, err := store.Put(ctx, DefaultSnapshotKey, image, blob.PutOptions{}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	fa := newFakeAssets()
	fa.responses[assets.PrebuiltPath] = assets.Response{Status: 200, Body: image}

	eng, origin, err := Standard(store, "", fa).Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer func() { _ = eng.Close() }()
	if origin != domain.OriginPersisted {
		t.Fatalf("origin = %s", origin)
	}
	if fa.count(assets.PrebuiltPath) != 0 || fa.count(assets.SchemaPath) != 0 {
		t.Fatalf("asset fetches should not happen when a snapshot exists")
	}
	if count(t, eng, "machines") != 1 {
		t.Fatalf("snapshot rows missing")
	}
}

func TestPrebuiltImage(t *testing.T) {
	ctx := context.Background()
	fa := newFakeAssets()
	fa.responses[assets.PrebuiltPath] = assets.Response{Status: 200, Body: buildImage(t, "CREATE TABLE resources (accession_id TEXT PRIMARY KEY);")}
	eng, origin, err := Standard(blob.NewMemory(), "", fa).Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer func() { _ = eng.Close() }()
	if origin != domain.OriginPrebuilt {
		t.Fatalf("origin = %s", origin)
	}
	if fa.count(assets.SchemaPath) != 0 {
		t.Fatalf("schema should not be fetched after a prebuilt hit")
	}
	if ok, _ := eng.TableExists(ctx, "resources"); !ok {
		t.Fatalf("prebuilt table missing")
	}
}

func TestSchemaBootstrapAfterPrebuilt404(t *testing.T) {
	ctx := context.Background()
	fa := newFakeAssets()
	fa.responses[assets.SchemaPath] = assets.Response{Status: 200, Body: []byte("CREATE TABLE test (id INT);")}
	eng, origin, err := Standard(blob.NewMemory(), "", fa).Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer func() { _ = eng.Close() }()
	if origin != domain.OriginSchema {
		t.Fatalf("origin = %s", origin)
	}
	rs, err := eng.Exec(ctx, "SELECT * FROM test")
	if err != nil || len(rs.Rows) != 0 {
		t.Fatalf("expected empty test table: %v %v", rs, err)
	}
}

func TestSchemaWithTriggers(t *testing.T) {
	ctx := context.Background()
	schema := "CREATE TABLE machines (accession_id TEXT PRIMARY KEY, name TEXT);\n" +
		"CREATE TABLE machine_audit (accession_id TEXT);\n" +
		"CREATE TRIGGER machines_audit AFTER INSERT ON machines\nBEGIN\n  INSERT INTO machine_audit VALUES (NEW.accession_id);\nEND;\n"
	fa := newFakeAssets()
	fa.responses[assets.SchemaPath] = assets.Response{Status: 200, Body: []byte(schema)}
	eng, origin, err := Standard(blob.NewMemory(), "", fa).Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer func() { _ = eng.Close() }()
	if origin != domain.OriginSchema {
		t.Fatalf("origin = %s", origin)
	}
	if _, err := eng.Exec(ctx, "INSERT INTO machines VALUES ('m1', 'STAR')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := count(t, eng, "machine_audit"); got != 1 {
		t.Fatalf("audit rows = %d", got)
	}
}

func TestLegacyFallbackWhenFetchesFail(t *testing.T) {
	ctx := context.Background()
	fa := newFakeAssets()
	fa.errs[assets.PrebuiltPath] = errors.New("connection refused")
	fa.responses[assets.SchemaPath] = assets.Response{Status: http.StatusInternalServerError, Body: []byte("oops")}

	var logs bytes.Buffer
	eng, origin, err := Standard(nil, "", fa, WithLogger(zerolog.New(&logs))).Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer func() { _ = eng.Close() }()
	if origin != domain.OriginLegacy {
		t.Fatalf("origin = %s", origin)
	}
	want := fixtures.Legacy().Counts()
	tables := map[domain.EntityType]string{
		domain.EntityProtocol:    entitymodel.ProtocolTable.Name,
		domain.EntityProtocolRun: entitymodel.ProtocolRunTable.Name,
		domain.EntityResource:    entitymodel.ResourceTable.Name,
		domain.EntityMachine:     entitymodel.MachineTable.Name,
	}
	for entity, table := range tables {
		if got := count(t, eng, table); got != int64(want[entity]) {
			t.Fatalf("%s rows = %d, want %d", table, got, want[entity])
		}
	}
	if n := strings.Count(logs.String(), "bootstrap source unavailable"); n != 3 {
		t.Fatalf("expected three skipped tiers in logs, got %d:\n%s", n, logs.String())
	}
}

func TestEmptyBodiesFallThrough(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	if _, err := store.Put(ctx, DefaultSnapshotKey, nil, blob.PutOptions{}); err != nil {
		t.Fatal(err)
	}
	fa := newFakeAssets()
	fa.responses[assets.PrebuiltPath] = assets.Response{Status: 200}
	fa.responses[assets.SchemaPath] = assets.Response{Status: 200, Body: []byte("CREATE TABLE t (id INT);")}
	eng, origin, err := Standard(store, "", fa).Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer func() { _ = eng.Close() }()
	if origin != domain.OriginSchema {
		t.Fatalf("origin = %s", origin)
	}
}

// A 200 response carrying 100 bytes that are not a database image is a
// construction failure: the header check rejects it instead of reporting
// ready(prebuilt), and resolution stops there.
func TestCorruptPrebuiltPropagates(t *testing.T) {
	fa := newFakeAssets()
	fa.responses[assets.PrebuiltPath] = assets.Response{Status: 200, Body: bytes.Repeat([]byte{0xAB}, 100)}
	fa.responses[assets.SchemaPath] = assets.Response{Status: 200, Body: []byte("CREATE TABLE t (id INT);")}
	_, _, err := Standard(blob.NewMemory(), "", fa).Resolve(context.Background())
	if !errors.Is(err, engine.ErrInvalidImage) {
		t.Fatalf("expected invalid image error, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("construction failure must not look like a fetch failure")
	}
	if fa.count(assets.SchemaPath) != 0 {
		t.Fatalf("resolution should stop at the failing tier")
	}
}

func TestCorruptSnapshotPropagates(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	if _, err := store.Put(ctx, "custom", []byte("not a database"), blob.PutOptions{}); err != nil {
		t.Fatal(err)
	}
	_, _, err := Standard(store, "custom", newFakeAssets()).Resolve(ctx)
	if !errors.Is(err, engine.ErrInvalidImage) || !strings.HasPrefix(err.Error(), "indexeddb:") {
		t.Fatalf("expected invalid snapshot error, got %v", err)
	}
}

func TestNoTiers(t *testing.T) {
	if _, _, err := New(nil).Resolve(context.Background()); !errors.Is(err, ErrNoTiers) {
		t.Fatalf("expected ErrNoTiers, got %v", err)
	}
}

func TestCanceledContextStopsFallThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fa := newFakeAssets()
	_, _, err := Standard(nil, "", fa).Resolve(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
