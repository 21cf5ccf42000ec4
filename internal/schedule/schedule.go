// Package schedule starts task runs on a cron schedule. At most one run
// is active at a time; a tick that fires while a run is still going is
// skipped rather than queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Craig-0219/potato-autoA/internal/logging"
)

// ErrBusy is returned by Trigger when a run is already active.
var ErrBusy = errors.New("a scheduled run is still active")

// Job is one scheduled run. It must return when ctx is cancelled.
type Job func(ctx context.Context) error

// parser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as @daily or @every 30m.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Stats counts what the scheduler has done so far.
type Stats struct {
	Runs    int64
	Skipped int64
	Failed  int64
}

// Scheduler fires a Job on a cron schedule.
type Scheduler struct {
	spec string
	job  Job
	cron *cron.Cron
	log  *logging.Logger

	mu      sync.Mutex
	ctx     context.Context // set by Run; jobs derive from it
	running atomic.Bool

	runs    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// New validates spec and creates a Scheduler for job.
func New(spec string, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("schedule: job is required")
	}
	log := logging.With("component", "schedule")
	s := &Scheduler{
		spec: spec,
		job:  job,
		log:  log,
		ctx:  context.Background(),
	}
	clog := cronLogger{log: log}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Validate reports whether spec parses.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Next returns the next activation after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	sched, err := parser.Parse(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(now)
}

// Run starts the schedule and blocks until ctx is cancelled. An active
// run is cancelled with ctx and awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.log.Info("scheduler started", "spec", s.spec, "next", s.Next(time.Now()))
	s.cron.Start()
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	st := s.Stats()
	s.log.Info("scheduler stopped", "runs", st.Runs, "skipped", st.Skipped, "failed", st.Failed)
	return nil
}

// Trigger runs the job immediately in the calling goroutine, unless a
// run is already active.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return ErrBusy
	}
	defer s.running.Store(false)

	s.runs.Add(1)
	if err := s.job(ctx); err != nil {
		s.failed.Add(1)
		return err
	}
	return nil
}

// Stats returns the counters so far.
func (s *Scheduler) Stats() Stats {
	return Stats{Runs: s.runs.Load(), Skipped: s.skipped.Load(), Failed: s.failed.Load()}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	err := s.Trigger(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		s.log.Warn("previous run still active, skipping tick", "spec", s.spec)
	case err != nil:
		s.log.Error("scheduled run failed", "error", err)
	default:
		s.log.Info("scheduled run finished", "next", s.Next(time.Now()))
	}
}

// cronLogger routes cron's own logging through the package logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
