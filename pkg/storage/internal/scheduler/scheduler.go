// Package scheduler runs backend maintenance jobs on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one periodic maintenance task.
type Job struct {
	// Name identifies the job in logs.
	Name string

	// Every is the interval between runs. Must be positive.
	Every time.Duration

	// Run performs the work. Returning an error logs it; the job keeps its schedule.
	Run func(ctx context.Context) error
}

// Scheduler manages a set of periodic jobs on a cron runner. Jobs never
// overlap with themselves: a run that outlasts its interval delays the next.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	running bool
}

// New creates an idle scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cron.DiscardLogger
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Add registers job. It may be called before or after Start.
func (s *Scheduler) Add(job Job) error {
	if job.Every <= 0 {
		return fmt.Errorf("job %q: interval must be positive, got %s", job.Name, job.Every)
	}
	if job.Run == nil {
		return fmt.Errorf("job %q: run function is nil", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already scheduled", job.Name)
	}

	spec := "@every " + job.Every.String()
	id, err := s.cron.AddFunc(spec, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = id
	return nil
}

// Start begins running jobs. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Debug("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Debug("scheduler stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled time of the named job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.logger.Warn("maintenance job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Debug("maintenance job completed", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}
