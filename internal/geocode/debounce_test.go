package geocode

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDebouncerRunsLastQueryOnly(t *testing.T) {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 4)
	d := NewDebouncer(30*time.Millisecond, func(_ context.Context, q string) {
		mu.Lock()
		got = append(got, q)
		mu.Unlock()
		done <- struct{}{}
	})
	for _, q := range []string{"P", "Pa", "Par", "Paris"} {
		d.Trigger(q)
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("debounced query never ran")
	}
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "Paris" {
		t.Fatalf("expected only Paris to run, got %v", got)
	}
}

func TestDebouncerCancelsPreviousRun(t *testing.T) {
	started := make(chan context.Context, 2)
	d := NewDebouncer(10*time.Millisecond, func(ctx context.Context, _ string) {
		started <- ctx
		<-ctx.Done()
	})
	d.Trigger("first")
	first := <-started
	d.Trigger("second")
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatalf("first run was not cancelled")
	}
	second := <-started
	d.Stop()
	select {
	case <-second.Done():
	case <-time.After(time.Second):
		t.Fatalf("Stop did not cancel the running query")
	}
}

func TestDebouncerStopDropsPending(t *testing.T) {
	ran := make(chan string, 1)
	d := NewDebouncer(20*time.Millisecond, func(_ context.Context, q string) { ran <- q })
	d.Trigger("Vienna")
	d.Stop()
	select {
	case q := <-ran:
		t.Fatalf("stopped debouncer ran %q", q)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncerDefaultDelay(t *testing.T) {
	d := NewDebouncer(0, func(context.Context, string) {})
	if d.delay != DefaultDebounce {
		t.Fatalf("expected default delay, got %v", d.delay)
	}
}
