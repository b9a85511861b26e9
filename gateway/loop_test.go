package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoopDoRunsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop()
	go loop.Run(ctx)

	ran := false
	if err := loop.Do(ctx, func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !ran {
		t.Error("task did not run")
	}
}

func TestLoopDoReturnsTaskError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop()
	go loop.Run(ctx)

	want := errors.New("boom")
	if err := loop.Do(ctx, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Do returned %v, want %v", err, want)
	}
}

func TestLoopSerializesTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop()
	go loop.Run(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		n := i
		go func() {
			defer wg.Done()
			_ = loop.Do(ctx, func(context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if len(order) != 8 {
		t.Errorf("ran %d tasks, want 8", len(order))
	}
}

func TestLoopDoCancelledWait(t *testing.T) {
	loop := NewLoop() // never run

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Fill the submission buffer so Do blocks on the caller's context.
	for i := 0; i < cap(loop.tasks); i++ {
		loop.tasks <- func(context.Context) {}
	}
	if err := loop.Do(ctx, func(context.Context) error { return nil }); err == nil {
		t.Error("Do must fail when the loop never runs the task")
	}
}

func TestLatch(t *testing.T) {
	l := NewLatch()
	if l.Ready() {
		t.Error("new latch must not be ready")
	}
	select {
	case <-l.Done():
		t.Error("Done must block before release")
	default:
	}

	l.Release()
	l.Release() // idempotent

	if !l.Ready() {
		t.Error("released latch must be ready")
	}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Error("Done must be closed after release")
	}
}
