package httputil

import "context"

// Semaphore bounds concurrent operations. The pipeline uses one to cap
// simultaneous verifier escalations so a burst of suspicious calls cannot
// pile up goroutines against a slow LLM backend.
type Semaphore struct {
	sem chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
// Capacity should be set based on expected load and resource constraints.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 100
	}
	return &Semaphore{
		sem: make(chan struct{}, capacity),
	}
}

// Acquire blocks until a slot is available or context is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the semaphore.
// Must be called after a successful Acquire().
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
		// Shouldn't happen - releasing without acquiring
	}
}

// Stats returns current slot usage.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Capacity:  cap(s.sem),
		InUse:     len(s.sem),
		Available: cap(s.sem) - len(s.sem),
	}
}

// SemaphoreStats provides semaphore metrics for monitoring.
type SemaphoreStats struct {
	Capacity  int `json:"capacity"`
	InUse     int `json:"in_use"`
	Available int `json:"available"`
}
