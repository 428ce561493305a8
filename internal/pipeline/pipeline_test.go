package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"praxis/internal/blob"
	"praxis/internal/engine"
	"praxis/pkg/domain"
)

func openEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.OpenEmpty(context.Background())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return e
}

// countingResolver returns a fresh engine per call and counts calls.
type countingResolver struct {
	calls   atomic.Int32
	release chan struct{}
	origin  domain.Origin
	err     error
}

func (r *countingResolver) Resolve(ctx context.Context) (*engine.Engine, domain.Origin, error) {
	r.calls.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if r.err != nil {
		return nil, "", r.err
	}
	e, err := engine.OpenEmpty(ctx)
	if err != nil {
		return nil, "", err
	}
	return e, r.origin, nil
}

func nextStatus(t *testing.T, ch <-chan domain.Status) domain.Status {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatalf("status channel closed")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status")
	}
	return domain.Status{}
}

func TestReadySingleFlight(t *testing.T) {
	r := &countingResolver{release: make(chan struct{}), origin: domain.OriginPrebuilt}
	p := New(r)
	defer func() { _ = p.Close() }()

	const callers = 32
	var wg sync.WaitGroup
	origins := make([]domain.Origin, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			origins[i], errs[i] = p.Ready(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()

	if n := r.calls.Load(); n != 1 {
		t.Fatalf("resolver ran %d times, want 1", n)
	}
	for i := range origins {
		if errs[i] != nil || origins[i] != domain.OriginPrebuilt {
			t.Fatalf("caller %d: %s %v", i, origins[i], errs[i])
		}
	}
	if _, err := p.Ready(context.Background()); err != nil || r.calls.Load() != 1 {
		t.Fatalf("memoized ready should not resolve again: %v", err)
	}
}

func TestStatusReplaysLatest(t *testing.T) {
	r := &countingResolver{release: make(chan struct{}), origin: domain.OriginSchema}
	p := New(r)
	defer func() { _ = p.Close() }()

	early := p.Subscribe(context.Background())
	if s := nextStatus(t, early); !s.Loading() {
		t.Fatalf("initial status = %s", s)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Ready(context.Background())
	}()
	close(r.release)
	<-done

	var last domain.Status
	for !last.Ready() {
		last = nextStatus(t, early)
	}
	if *last.Source != domain.OriginSchema {
		t.Fatalf("early subscriber saw %s", last)
	}
	late := p.Subscribe(context.Background())
	if s := nextStatus(t, late); !s.Ready() || *s.Source != domain.OriginSchema {
		t.Fatalf("late subscriber should get replayed ready, got %s", s)
	}
	if p.Status().String() != "ready(schema)" || p.Origin() != domain.OriginSchema {
		t.Fatalf("status = %s origin = %s", p.Status(), p.Origin())
	}
}

func TestInitErrorPropagatesToEveryCaller(t *testing.T) {
	boom := errors.New("corrupt image")
	r := &countingResolver{err: boom}
	p := New(r)
	defer func() { _ = p.Close() }()

	_, err := p.Ready(context.Background())
	var initErr *InitError
	if !errors.As(err, &initErr) || !errors.Is(err, boom) {
		t.Fatalf("expected InitError wrapping boom, got %v", err)
	}
	werr := p.WithEngine(context.Background(), func(*engine.Engine) error {
		t.Fatalf("fn must not run after failed init")
		return nil
	})
	if !errors.Is(werr, boom) {
		t.Fatalf("WithEngine error = %v", werr)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("failed init must not be retried, calls = %d", r.calls.Load())
	}
	s := p.Status()
	if !s.Failed() || *s.Error != boom.Error() {
		t.Fatalf("status = %s", s)
	}
}

func TestWaiterCancellationDoesNotFailOthers(t *testing.T) {
	r := &countingResolver{release: make(chan struct{}), origin: domain.OriginLegacy}
	p := New(r)
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := p.Ready(ctx)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("first waiter: %v", err)
	}
	close(r.release)
	origin, err := p.Ready(context.Background())
	if err != nil || origin != domain.OriginLegacy {
		t.Fatalf("second waiter: %s %v", origin, err)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("resolution should survive the first waiter, calls = %d", r.calls.Load())
	}
}

func TestReplaceSwapsEngineAndReemitsStatus(t *testing.T) {
	ctx := context.Background()
	r := &countingResolver{origin: domain.OriginPrebuilt}
	p := New(r)
	defer func() { _ = p.Close() }()
	if _, err := p.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	var old *engine.Engine
	_ = p.WithEngine(ctx, func(e *engine.Engine) error { old = e; return nil })

	sub := p.Subscribe(ctx)
	nextStatus(t, sub)

	replacement := openEngine(t)
	if _, err := replacement.Exec(ctx, "CREATE TABLE imported (id INT)"); err != nil {
		t.Fatal(err)
	}
	if err := p.Replace(ctx, replacement, domain.OriginPersisted); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if s := nextStatus(t, sub); !s.Ready() || *s.Source != domain.OriginPersisted {
		t.Fatalf("subscriber should see ready(indexeddb), got %s", s)
	}
	if _, err := old.Exec(ctx, "SELECT 1"); !errors.Is(err, engine.ErrClosed) {
		t.Fatalf("old engine should be closed, got %v", err)
	}
	err := p.WithEngine(ctx, func(e *engine.Engine) error {
		ok, err := e.TableExists(ctx, "imported")
		if !ok {
			return errors.New("replacement not active")
		}
		return err
	})
	if err != nil {
		t.Fatalf("with engine: %v", err)
	}
	if err := p.Replace(ctx, nil, domain.OriginPersisted); err == nil {
		t.Fatalf("nil replacement should fail")
	}
}

func TestReplaceRecoversFromInitError(t *testing.T) {
	ctx := context.Background()
	p := New(&countingResolver{err: errors.New("boom")})
	defer func() { _ = p.Close() }()
	if _, err := p.Ready(ctx); err == nil {
		t.Fatalf("expected init error")
	}
	if err := p.Replace(ctx, openEngine(t), domain.OriginPersisted); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if origin, err := p.Ready(ctx); err != nil || origin != domain.OriginPersisted {
		t.Fatalf("ready after replace: %s %v", origin, err)
	}
}

func TestResetDeletesOnlyTheSnapshot(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	for _, key := range []string{"lab/snapshot", "backups/praxis-backup-20250203T040506Z.db"} {
		if _, err := store.Put(ctx, key, []byte("x"), blob.PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	r := &countingResolver{origin: domain.OriginLegacy}
	p := New(r, WithStore(store), WithSnapshotKey("lab/snapshot"))
	defer func() { _ = p.Close() }()
	if _, err := p.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !p.Status().Loading() {
		t.Fatalf("status after reset = %s", p.Status())
	}
	if _, _, err := store.Get(ctx, "lab/snapshot"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("snapshot should be deleted, got %v", err)
	}
	if _, _, err := store.Get(ctx, "backups/praxis-backup-20250203T040506Z.db"); err != nil {
		t.Fatalf("backup should survive reset: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset without a snapshot: %v", err)
	}
	if _, err := p.Ready(ctx); err != nil {
		t.Fatalf("ready after reset: %v", err)
	}
	if r.calls.Load() != 2 {
		t.Fatalf("expected a second resolution, calls = %d", r.calls.Load())
	}
}

func TestReplaceDuringResolutionStaysReady(t *testing.T) {
	ctx := context.Background()
	r := &countingResolver{release: make(chan struct{}), origin: domain.OriginPrebuilt}
	p := New(r)
	defer func() { _ = p.Close() }()

	first := make(chan domain.Origin, 1)
	go func() {
		origin, _ := p.Ready(ctx)
		first <- origin
	}()
	for r.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := p.Replace(ctx, openEngine(t), domain.OriginPersisted); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if s := p.Status(); !s.Ready() || *s.Source != domain.OriginPersisted {
		t.Fatalf("status after replace = %s", s)
	}
	close(r.release)
	if origin := <-first; origin != domain.OriginPersisted {
		t.Fatalf("in-flight waiter should see the replacement, got %s", origin)
	}
	if s := p.Status(); !s.Ready() || *s.Source != domain.OriginPersisted {
		t.Fatalf("status after resolution finished = %s", s)
	}
	sub := p.Subscribe(ctx)
	if s := nextStatus(t, sub); !s.Ready() {
		t.Fatalf("subscribers should replay ready, got %s", s)
	}
}

func TestResetDiscardsInFlightResolution(t *testing.T) {
	r := &countingResolver{release: make(chan struct{}), origin: domain.OriginPrebuilt}
	p := New(r)
	defer func() { _ = p.Close() }()

	first := make(chan error, 1)
	go func() {
		_, err := p.Ready(context.Background())
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	close(r.release)
	if err := <-first; !errors.Is(err, ErrReset) {
		t.Fatalf("in-flight waiter should see ErrReset, got %v", err)
	}
	if _, err := p.Ready(context.Background()); err != nil {
		t.Fatalf("ready after reset: %v", err)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	ctx := context.Background()
	r := &countingResolver{release: make(chan struct{}), origin: domain.OriginPrebuilt}
	p := New(r)
	sub := p.Subscribe(ctx)
	nextStatus(t, sub)

	pending := make(chan error, 1)
	go func() {
		_, err := p.Ready(ctx)
		pending <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-pending:
		if err == nil {
			t.Fatalf("pending Ready should fail after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not abort the stalled resolution")
	}
	if _, err := p.Ready(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ready after close = %v", err)
	}
	for range sub {
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
