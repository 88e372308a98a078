// Package tasks provides a bounded background-task submitter for
// fire-and-forget side effects (authenticity adjustment, score
// propagation). Call sites submit and move on; the pool gives the side
// effects a single place to grow retries or backpressure later without
// touching callers.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task is a unit of background work. The context is the submitter's run
// context and is canceled on Stop.
type Task func(ctx context.Context)

// Default pool sizing.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Submitter runs submitted tasks on a fixed worker pool over a bounded
// queue. Submission never blocks: when the queue is full the task is
// dropped and counted, which is the accepted at-most-once model for side
// effects in this layer.
type Submitter struct {
	name    string
	logger  *slog.Logger
	queue   chan Task
	dropped atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewSubmitter creates a submitter with the given pool sizing. Zero or
// negative sizes fall back to defaults.
func NewSubmitter(name string, workers, queueSize int, logger *slog.Logger) *Submitter {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Submitter{
		name:   name,
		logger: logger,
		queue:  make(chan Task, queueSize),
	}
	s.start(workers)
	return s
}

// start spins up the worker pool.
func (s *Submitter) start(workers int) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	s.running = true

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for task := range s.queue {
				s.run(ctx, task)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(s.doneCh)
	}()
}

// run executes one task, recovering panics so a bad task cannot take the
// worker down.
func (s *Submitter) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background task panicked",
				"pool", s.name,
				"panic", r)
		}
	}()
	task(ctx)
}

// Submit enqueues a task without blocking. Returns false when the queue
// is saturated or the submitter has stopped; the task is dropped and
// counted. The mutex is held across the enqueue so Stop cannot close
// the queue between the running check and the send; the send itself is
// a non-blocking select, so the lock is never held waiting.
func (s *Submitter) Submit(task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.dropped.Add(1)
		return false
	}

	select {
	case s.queue <- task:
		return true
	default:
		s.dropped.Add(1)
		s.logger.Warn("background task dropped, queue saturated", "pool", s.name)
		return false
	}
}

// Dropped returns how many tasks were dropped since creation.
func (s *Submitter) Dropped() int64 {
	return s.dropped.Load()
}

// Stop drains queued tasks, cancels the run context for in-flight work,
// and waits for the workers to exit. Safe to call more than once.
func (s *Submitter) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.queue)
	<-s.doneCh
	s.cancel()
}
