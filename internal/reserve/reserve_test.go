package reserve

import (
	"context"
	"testing"
	"time"
)

func TestRelease(t *testing.T) {
	r := New(1<<20, nil)
	if r.Size() != 1<<20 {
		t.Fatalf("Size() = %d", r.Size())
	}

	r.Release()
	r.Release()

	select {
	case <-r.Done():
	default:
		t.Fatal("Done should be closed after Release")
	}
	if r.Size() != 0 {
		t.Errorf("Size() after release = %d", r.Size())
	}
}

func TestWatchReleasesAboveLimit(t *testing.T) {
	r := New(1<<20, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go r.Watch(ctx, 1, 5*time.Millisecond)

	select {
	case <-r.Done():
	case <-ctx.Done():
		t.Fatal("reserve was not released")
	}
}

func TestWatchStopsWithContext(t *testing.T) {
	r := New(1024, nil)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		r.Watch(ctx, 1<<62, time.Millisecond)
		close(finished)
	}()
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}
	select {
	case <-r.Done():
		t.Error("reserve should still be held")
	default:
	}
}
