// Package schedule runs periodic cache maintenance.
package schedule

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Job runs fn every interval until its context is cancelled. Runs happen on the Serve
// goroutine, so a panic in fn reaches the supervisor and Serve returns only after the
// current run ends. Ticks that fire during a run are dropped, never queued.
type Job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	logger   *zap.Logger
	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
}

// NewJob creates a new Job.
func NewJob(name string, interval time.Duration, logger *zap.Logger, fn func(ctx context.Context)) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
	}
}

// String names the job for the supervisor.
func (j *Job) String() string { return j.name }

// Interval returns the tick interval.
func (j *Job) Interval() time.Duration { return j.interval }

// Serve starts the ticker loop. It returns ctx.Err() once ctx is done.
func (j *Job) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			j.logger.Debug("Stopping job due to context cancellation", zap.String("job", j.name))
			return ctx.Err()
		}
	}
}

// RunOnce runs fn unless a previous run is still in progress. It reports whether fn ran.
func (j *Job) RunOnce(ctx context.Context) bool {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Inc()
		j.logger.Debug("Skipping overlapping run", zap.String("job", j.name))
		return false
	}
	defer j.running.Store(false)

	j.fn(ctx)
	j.runs.Inc()
	return true
}

// Runs returns how many times fn completed.
func (j *Job) Runs() int64 { return j.runs.Load() }

// Skipped returns how many ticks were dropped because a run was in progress.
func (j *Job) Skipped() int64 { return j.skipped.Load() }
