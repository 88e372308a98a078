package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsegram/feedrank/internal/jobs"
)

// DefaultRetentionInterval is how often the retention sweep runs.
const DefaultRetentionInterval = 24 * time.Hour

// RetentionJob periodically removes feed entries older than the
// retention window so the index does not grow without bound.
type RetentionJob struct {
	engine   *Engine
	maxAge   time.Duration
	interval time.Duration
	metrics  jobs.Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewRetentionJob creates a retention job. metrics may be nil. Zero
// durations fall back to defaults.
func NewRetentionJob(engine *Engine, maxAge, interval time.Duration, metrics jobs.Recorder, logger *slog.Logger) *RetentionJob {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionJob{
		engine:   engine,
		maxAge:   maxAge,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start launches the periodic sweep. Returns an error if already
// started.
func (j *RetentionJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return errors.New("retention job already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.doneCh = make(chan struct{})
	j.running = true

	go j.loop(ctx)

	j.logger.Info("feed retention job started",
		"max_age", j.maxAge,
		"interval", j.interval)
	return nil
}

// Stop halts the sweep. Safe to call more than once.
func (j *RetentionJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	cancel, done := j.cancel, j.doneCh
	j.mu.Unlock()

	cancel()
	<-done
}

func (j *RetentionJob) loop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *RetentionJob) sweep(ctx context.Context) {
	start := time.Now()
	removed, err := j.engine.SweepOld(ctx, j.maxAge)

	if j.metrics != nil {
		status := jobs.StatusSuccess
		if err != nil {
			status = jobs.StatusFailure
		}
		j.metrics.IncJobsTotal(jobs.JobTypeFeedRetention, status)
		j.metrics.ObserveJobDuration(jobs.JobTypeFeedRetention, time.Since(start).Seconds())
	}
	if err != nil {
		if j.metrics != nil {
			j.metrics.IncJobErrors(jobs.JobTypeFeedRetention, "sweep")
		}
		j.logger.Error("feed retention sweep failed", "error", err)
		return
	}
	j.logger.Info("feed retention sweep complete", "removed", removed)
}
