// Package scheduler runs the engine's periodic jobs: the all-students batch
// evaluation, the daily streak pass and the weekly unlock summary.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is one unit of scheduled work.
type Job interface {
	// Name is unique within a scheduler.
	Name() string

	// Run executes the job. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error

	Description() string
}

// Schedule computes run times.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// RunResult describes one finished run.
type RunResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     error

	// Manual is true for RunNow.
	Manual bool
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config configures a Scheduler.
type Config struct {
	Logger *slog.Logger

	// Timezone is used for cron evaluation (default: UTC).
	Timezone *time.Location
}

// DefaultConfig returns UTC with the default logger.
func DefaultConfig() Config {
	return Config{Logger: slog.Default(), Timezone: time.UTC}
}

// Scheduler sleeps until the earliest due job and starts it. A job whose
// previous run is still in flight is skipped for that slot.
type Scheduler struct {
	mu sync.Mutex

	log *slog.Logger
	loc *time.Location
	now func() time.Time

	entries map[string]*entry
	wake    chan struct{}

	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	onComplete func(RunResult)
}

type entry struct {
	job      Job
	schedule Schedule

	inFlight bool
	next     time.Time
	last     *RunResult

	runs, failures, skips int64
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Scheduler{
		log:     cfg.Logger.With("component", "scheduler"),
		loc:     cfg.Timezone,
		now:     time.Now,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds job under schedule. Registering while running is allowed.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	name := job.Name()
	if _, dup := s.entries[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, next: schedule.Next(s.now().In(s.loc))}
	s.entries[name] = e
	s.mu.Unlock()

	s.log.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", e.next.Format(time.RFC3339))
	s.poke()
	return nil
}

// OnJobComplete sets a callback invoked after every run, scheduled or manual.
func (s *Scheduler) OnJobComplete(fn func(RunResult)) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// ── lifecycle ────────────────────────────────────────────────────────────────

// Start launches the dispatch loop. ctx bounds every job run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = s.now()
	n := len(s.entries)
	s.mu.Unlock()

	s.log.Info("scheduler started", "jobs_count", n)
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped", "uptime", time.Since(s.startedAt).String())
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ── dispatch ─────────────────────────────────────────────────────────────────

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
			s.dispatchDue()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.untilNext())
	}
}

// untilNext is the sleep until the earliest due entry, capped at an hour so
// clock jumps are picked up.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := time.Hour
	now := s.now()
	for _, e := range s.entries {
		if d := e.next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) dispatchDue() {
	now := s.now().In(s.loc)

	var due []*entry
	s.mu.Lock()
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		e.next = e.schedule.Next(now)
		if e.inFlight {
			e.skips++
			s.log.Warn("job still running, skipping slot", "job", e.job.Name(), "next_run", e.next)
			continue
		}
		e.inFlight = true
		e.runs++
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.run(s.ctx, e, false)
		}(e)
	}
}

// run executes e, turning a panic into ErrJobPanicked.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) RunResult {
	name := e.job.Name()
	start := s.now()
	s.log.Info("job started", "job", name, "manual", manual)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			}
		}()
		return e.job.Run(ctx)
	}()

	res := RunResult{
		JobName:   name,
		StartedAt: start,
		Duration:  s.now().Sub(start),
		Success:   err == nil,
		Error:     err,
		Manual:    manual,
	}

	s.mu.Lock()
	e.inFlight = false
	e.last = &res
	if err != nil {
		e.failures++
	}
	cb := s.onComplete
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.log.Info("job completed", "job", name, "duration", res.Duration.String())
	}
	if cb != nil {
		cb(res)
	}
	return res
}

// RunNow runs a job synchronously outside its schedule. It returns
// ErrJobRunning when the job is already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*RunResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.inFlight:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.inFlight = true
	e.runs++
	s.mu.Unlock()

	res := s.run(ctx, e, true)
	return &res, res.Error
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Running     bool
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	SkipCount   int64
	LastResult  *RunResult
}

// ListJobs returns a snapshot of every job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		info := JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			Running:     e.inFlight,
			NextRun:     e.next,
			RunCount:    e.runs,
			FailCount:   e.failures,
			SkipCount:   e.skips,
		}
		if e.last != nil {
			last := *e.last
			info.LastResult = &last
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrJobPanicked             = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)
