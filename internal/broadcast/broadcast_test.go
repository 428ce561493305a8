package broadcast

import (
	"context"
	"testing"
	"time"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestLatestReplaysCurrentValue(t *testing.T) {
	l := NewLatest("loading", 4)
	l.Set("ready")
	ch := l.Subscribe(context.Background())
	if got := recv(t, ch); got != "ready" {
		t.Fatalf("first value = %q, want ready", got)
	}
	l.Set("error")
	if got := recv(t, ch); got != "error" {
		t.Fatalf("second value = %q", got)
	}
	if l.Get() != "error" {
		t.Fatalf("Get = %q", l.Get())
	}
}

func TestLatestKeepsNewestWhenFull(t *testing.T) {
	l := NewLatest(0, 1)
	ch := l.Subscribe(context.Background())
	for i := 1; i <= 5; i++ {
		l.Set(i)
	}
	if got := recv(t, ch); got != 5 {
		t.Fatalf("expected newest value 5, got %d", got)
	}
}

func TestLatestUnsubscribeOnCancel(t *testing.T) {
	l := NewLatest(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := l.Subscribe(ctx)
	recv(t, ch)
	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("channel not closed after cancel")
		}
	}
}

func TestLatestClose(t *testing.T) {
	l := NewLatest("a", 2)
	ch := l.Subscribe(context.Background())
	recv(t, ch)
	l.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	l.Set("b")
	if l.Get() != "a" {
		t.Fatalf("Set after Close should be ignored")
	}
	late := l.Subscribe(context.Background())
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after Close should yield a closed channel")
	}
}

func TestFeedHasNoReplay(t *testing.T) {
	f := NewFeed[string](2)
	f.Publish("before")
	ch := f.Subscribe(context.Background())
	select {
	case v := <-ch:
		t.Fatalf("unexpected replay %q", v)
	default:
	}
	f.Publish("after")
	if got := recv(t, ch); got != "after" {
		t.Fatalf("got %q", got)
	}
}

func TestFeedDropsForSlowSubscribers(t *testing.T) {
	f := NewFeed[int](1)
	ch := f.Subscribe(context.Background())
	f.Publish(1)
	f.Publish(2)
	if f.Dropped() != 1 {
		t.Fatalf("dropped = %d", f.Dropped())
	}
	if got := recv(t, ch); got != 1 {
		t.Fatalf("got %d", got)
	}
	if f.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", f.Subscribers())
	}
	f.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if f.Subscribers() != 0 {
		t.Fatalf("subscribers after close = %d", f.Subscribers())
	}
}
