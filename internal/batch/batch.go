// Package batch schedules the aggregation jobs: the daily rollup, the
// ranked cache rebuild, and bucket cleanup. Each run is guarded by a
// cross-instance lock in the counter store so only one daemon executes a
// job at a time.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mindloop/trendd/internal/counter"
	"github.com/mindloop/trendd/internal/idgen"
	"github.com/mindloop/trendd/internal/metrics"
)

// Job names double as lock names and metric labels.
const (
	JobRollup  = "rollup"
	JobRebuild = "cache-rebuild"
	JobCleanup = "cleanup"
)

// JobState tracks where a job is in its run cycle.
type JobState int32

const (
	StateIdle JobState = iota
	StateLockAcquiring
	StateRunning
	StateUnlocking
)

func (s JobState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLockAcquiring:
		return "lock-acquiring"
	case StateRunning:
		return "running"
	case StateUnlocking:
		return "unlocking"
	default:
		return "unknown"
	}
}

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	state atomic.Int32
}

// State returns the job's current state.
func (j *Job) State() JobState {
	return JobState(j.state.Load())
}

func (j *Job) setState(s JobState) {
	j.state.Store(int32(s))
}

// Runner drives a set of jobs on their intervals.
type Runner struct {
	counter counter.Store
	lockTTL time.Duration
	jobs    []*Job
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(cs counter.Store, lockTTL time.Duration, jobs []*Job, logger *slog.Logger) *Runner {
	return &Runner{counter: cs, lockTTL: lockTTL, jobs: jobs, logger: logger}
}

// Jobs returns the runner's jobs, for status reporting.
func (r *Runner) Jobs() []*Job {
	return r.jobs
}

// Start launches one scheduling goroutine per job. Each job runs once
// immediately, then on its interval.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for _, job := range r.jobs {
		r.wg.Add(1)
		go func(job *Job) {
			defer r.wg.Done()
			r.schedule(ctx, job)
		}(job)
	}
}

// Stop cancels the schedulers and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) schedule(ctx context.Context, job *Job) {
	r.RunNow(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunNow(ctx, job)
		}
	}
}

// RunNow executes one guarded run of the job. A run that loses the lock
// race is a silent skip, not an error: another instance is doing the work.
func (r *Runner) RunNow(ctx context.Context, job *Job) {
	defer job.setState(StateIdle)

	job.setState(StateLockAcquiring)
	token, err := idgen.Generate()
	if err != nil {
		r.logger.Error("generating lock token", "job", job.Name, "error", err)
		metrics.BatchRuns.WithLabelValues(job.Name, "error").Inc()
		return
	}
	acquired, err := r.counter.TryLock(ctx, job.Name, token, r.lockTTL)
	if err != nil {
		r.logger.Error("acquiring batch lock", "job", job.Name, "error", err)
		metrics.BatchRuns.WithLabelValues(job.Name, "error").Inc()
		return
	}
	if !acquired {
		r.logger.Debug("batch lock held elsewhere, skipping", "job", job.Name)
		metrics.BatchRuns.WithLabelValues(job.Name, "skipped").Inc()
		return
	}

	job.setState(StateRunning)
	start := time.Now()
	err = safeRun(ctx, job)

	job.setState(StateUnlocking)
	if uerr := r.counter.Unlock(ctx, job.Name, token); uerr != nil {
		r.logger.Error("releasing batch lock", "job", job.Name, "error", uerr)
	}

	if err != nil {
		r.logger.Error("batch job failed", "job", job.Name, "error", err)
		metrics.BatchRuns.WithLabelValues(job.Name, "error").Inc()
		return
	}
	r.logger.Info("batch job completed", "job", job.Name, "elapsed", time.Since(start))
	metrics.BatchRuns.WithLabelValues(job.Name, "ok").Inc()
}

// safeRun converts a panicking job into an error so one bad tick cannot
// take down the scheduler.
func safeRun(ctx context.Context, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, rec)
		}
	}()
	return job.Run(ctx)
}
