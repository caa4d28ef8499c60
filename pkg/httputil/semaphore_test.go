package httputil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSemaphore_Acquire(t *testing.T) {
	sem := NewSemaphore(1)

	// First should succeed immediately
	ctx := context.Background()
	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("First Acquire failed: %v", err)
	}

	// Second should block and timeout
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sem.Acquire(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestSemaphore_Concurrent(t *testing.T) {
	sem := NewSemaphore(10)
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			sem.Release()
		}()
	}

	wg.Wait()

	// All should be released now
	stats := sem.Stats()
	if stats.InUse != 0 {
		t.Errorf("Expected 0 in use after completion, got %d", stats.InUse)
	}
}

func TestSemaphore_Stats(t *testing.T) {
	sem := NewSemaphore(5)

	stats := sem.Stats()
	if stats.Capacity != 5 {
		t.Errorf("Capacity = %d, want 5", stats.Capacity)
	}
	if stats.Available != 5 {
		t.Errorf("Available = %d, want 5", stats.Available)
	}
	if stats.InUse != 0 {
		t.Errorf("InUse = %d, want 0", stats.InUse)
	}

	ctx := context.Background()
	_ = sem.Acquire(ctx)
	_ = sem.Acquire(ctx)

	stats = sem.Stats()
	if stats.InUse != 2 {
		t.Errorf("InUse = %d, want 2", stats.InUse)
	}
	if stats.Available != 3 {
		t.Errorf("Available = %d, want 3", stats.Available)
	}
}

func TestNewSemaphore_DefaultCapacity(t *testing.T) {
	// Zero or negative should default to 100
	sem := NewSemaphore(0)
	if cap(sem.sem) != 100 {
		t.Errorf("Default capacity should be 100, got %d", cap(sem.sem))
	}

	sem = NewSemaphore(-5)
	if cap(sem.sem) != 100 {
		t.Errorf("Negative capacity should default to 100, got %d", cap(sem.sem))
	}
}
