package utils

import (
	"context"
	"sync"
	"sync/atomic"
)

// WorkerPool runs jobs on at most maxWorkers goroutines at a time.
// Submit never blocks the caller: queued jobs wait for a free slot.
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
	wg         sync.WaitGroup
	active     atomic.Int64
	queued     atomic.Int64
}

// NewWorkerPool creates a WorkerPool with the given concurrency.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job for execution in the pool. A job whose ctx ends
// before a worker slot frees up is dropped without running.
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context)) {
	wp.SubmitOr(ctx, job, nil)
}

// SubmitOr is Submit with a callback for dropped jobs. Exactly one of job
// and dropped runs; dropped receives the ctx error that caused the drop.
func (wp *WorkerPool) SubmitOr(ctx context.Context, job func(ctx context.Context), dropped func(err error)) {
	wp.wg.Add(1)
	wp.queued.Add(1)

	drop := func() {
		if dropped != nil {
			dropped(ctx.Err())
		}
	}

	go func() {
		defer wp.wg.Done()

		select {
		case wp.semaphore <- struct{}{}:
			wp.queued.Add(-1)
		case <-ctx.Done():
			wp.queued.Add(-1)
			drop()
			return
		}
		defer func() { <-wp.semaphore }()

		// select picks at random when both cases are ready
		if ctx.Err() != nil {
			drop()
			return
		}

		wp.active.Add(1)
		defer wp.active.Add(-1)
		job(ctx)
	}()
}

// Wait blocks until all submitted jobs have completed or been dropped.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Active returns the number of jobs currently running.
func (wp *WorkerPool) Active() int {
	return int(wp.active.Load())
}

// Queued returns the number of jobs waiting for a slot.
func (wp *WorkerPool) Queued() int {
	return int(wp.queued.Load())
}

// Size returns the configured concurrency.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}

// IDSet is a thread-safe set for tracking seen identifiers.
type IDSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewIDSet creates an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]struct{})}
}

// Add returns true if the ID was newly added, false if already present.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[id]; exists {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Contains returns true if the ID has already been seen.
func (s *IDSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[id]
	return exists
}

// Size returns the number of unique IDs tracked.
func (s *IDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
