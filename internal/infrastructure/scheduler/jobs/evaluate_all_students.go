// Package jobs contains the scheduled jobs of the achievement engine.
// Every job implements scheduler.Job and is safe to run manually through
// Scheduler.RunNow as well as on its schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/internal/domain/student"
	"github.com/classvest/achievement-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE ALL STUDENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StudentEvaluator runs the unlock flow for one student.
type StudentEvaluator interface {
	ProcessStudent(ctx context.Context, studentID string, source achievement.Source) ([]*achievement.Achievement, error)
}

// RunLock guards a batch against concurrent runs on other instances.
// Acquire returns a release func, or ok=false when another holder exists.
type RunLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// ErrBatchLocked is returned when another instance holds the run lock.
var ErrBatchLocked = errors.New("batch is already running on another instance")

// EvaluateAllStudentsConfig configures a batch run.
type EvaluateAllStudentsConfig struct {
	// Name is the scheduler job name.
	Name string

	// Source is recorded on every unlock granted by this job.
	Source achievement.Source

	// Concurrency is the number of students evaluated in parallel.
	Concurrency int

	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration

	// FailureThreshold is the error rate above which Run reports failure.
	FailureThreshold float64

	// LockTTL is how long the run lock is held at most.
	LockTTL time.Duration
}

// DefaultEvaluateAllStudentsConfig returns the nightly batch defaults.
func DefaultEvaluateAllStudentsConfig() EvaluateAllStudentsConfig {
	return EvaluateAllStudentsConfig{
		Name:             "evaluate_all_students",
		Source:           achievement.SourceScheduledBatch,
		Concurrency:      8,
		Timeout:          30 * time.Minute,
		FailureThreshold: 0.5,
		LockTTL:          time.Hour,
	}
}

// DailyStreakConfig returns the config of the daily streak pass.
func DailyStreakConfig() EvaluateAllStudentsConfig {
	cfg := DefaultEvaluateAllStudentsConfig()
	cfg.Name = "daily_streak_evaluation"
	cfg.Source = achievement.SourceDailyStreak
	return cfg
}

// StudentUnlockSummary lists what one student unlocked during a batch.
type StudentUnlockSummary struct {
	StudentID    string   `json:"student_id"`
	Achievements []string `json:"achievements"`
}

// BatchResult is the outcome of one pass over the roster.
type BatchResult struct {
	Source            achievement.Source     `json:"source"`
	StartedAt         time.Time              `json:"started_at"`
	Duration          time.Duration          `json:"duration"`
	TotalStudents     int                    `json:"total_students"`
	ProcessedCount    int                    `json:"processed_count"`
	ErrorCount        int                    `json:"error_count"`
	Skipped           int                    `json:"skipped"`
	UnlockedSummaries []StudentUnlockSummary `json:"unlocked_summaries"`
}

// UnlockCount returns the number of unlocks granted during the batch.
func (r *BatchResult) UnlockCount() int {
	n := 0
	for _, s := range r.UnlockedSummaries {
		n += len(s.Achievements)
	}
	return n
}

// EvaluateAllStudentsJob evaluates every student on the roster.
// A failing student is counted and logged and never stops the batch.
type EvaluateAllStudentsJob struct {
	roster    student.Roster
	evaluator StudentEvaluator
	publisher shared.EventPublisher
	lock      RunLock
	logger    *slog.Logger
	config    EvaluateAllStudentsConfig

	lastResult atomic.Value // *BatchResult
}

// NewEvaluateAllStudentsJob creates a batch job. lock may be nil.
func NewEvaluateAllStudentsJob(
	roster student.Roster,
	evaluator StudentEvaluator,
	publisher shared.EventPublisher,
	lock RunLock,
	logger *slog.Logger,
	config EvaluateAllStudentsConfig,
) *EvaluateAllStudentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	defaults := DefaultEvaluateAllStudentsConfig()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.Source == "" {
		config.Source = defaults.Source
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}

	return &EvaluateAllStudentsJob{
		roster:    roster,
		evaluator: evaluator,
		publisher: publisher,
		lock:      lock,
		logger:    logger.With("job", config.Name),
		config:    config,
	}
}

// Name returns the job name.
func (j *EvaluateAllStudentsJob) Name() string { return j.config.Name }

// Description returns a human-readable description.
func (j *EvaluateAllStudentsJob) Description() string {
	return fmt.Sprintf("Evaluates automatic achievements for every student (source %s)", j.config.Source)
}

// Run implements scheduler.Job.
func (j *EvaluateAllStudentsJob) Run(ctx context.Context) error {
	res, err := j.RunForAllStudents(ctx)
	if err != nil {
		return err
	}
	if res.TotalStudents == 0 {
		return nil
	}

	rate := float64(res.ErrorCount) / float64(res.TotalStudents)
	if rate > j.config.FailureThreshold {
		return fmt.Errorf("evaluation failed for %d of %d students", res.ErrorCount, res.TotalStudents)
	}
	return nil
}

// LastResult returns the result of the most recent run, or nil.
func (j *EvaluateAllStudentsJob) LastResult() *BatchResult {
	if v, ok := j.lastResult.Load().(*BatchResult); ok {
		return v
	}
	return nil
}

// RunForAllStudents evaluates the whole roster and reports per-student outcomes.
// Students not yet started when ctx is cancelled are counted as skipped.
func (j *EvaluateAllStudentsJob) RunForAllStudents(ctx context.Context) (*BatchResult, error) {
	started := time.Now()
	res := &BatchResult{
		Source:            j.config.Source,
		StartedAt:         started,
		UnlockedSummaries: make([]StudentUnlockSummary, 0),
	}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if j.lock != nil {
		release, ok, err := j.lock.Acquire(ctx, "batch:"+j.config.Name, j.config.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return nil, ErrBatchLocked
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("failed to release run lock", "error", err)
			}
		}()
	}

	policy := retry.Storage()
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		j.logger.Warn("roster read failed, retrying", "attempt", attempt, "wait", wait.String(), "error", err)
	}
	ids, err := retry.Value(ctx, policy, j.roster.ListStudentIDs)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	res.TotalStudents = len(ids)
	j.logger.Info("batch started", "students", len(ids), "source", string(j.config.Source))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(j.config.Concurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			mu.Lock()
			res.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}
			unlocked, err := j.evaluateOne(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.ErrorCount++
				j.logger.Error("student evaluation failed", "student_id", id, "error", err,
					"stored_unlocks", len(unlocked))
			} else {
				res.ProcessedCount++
			}
			// Unlocks stored before a failure still count.
			if len(unlocked) > 0 {
				names := make([]string, 0, len(unlocked))
				for _, a := range unlocked {
					names = append(names, a.Name)
				}
				res.UnlockedSummaries = append(res.UnlockedSummaries, StudentUnlockSummary{StudentID: id, Achievements: names})
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(started)
	j.lastResult.Store(res)

	event := shared.NewBatchCompletedEvent(string(j.config.Source), res.ProcessedCount, res.ErrorCount, res.UnlockCount(), res.Duration)
	if err := j.publisher.Publish(event); err != nil {
		j.logger.Warn("failed to publish batch completed event", "error", err)
	}

	j.logger.Info("batch completed",
		"duration", res.Duration.String(),
		"processed", res.ProcessedCount,
		"failed", res.ErrorCount,
		"skipped", res.Skipped,
		"unlocked", res.UnlockCount(),
	)
	return res, nil
}

func (j *EvaluateAllStudentsJob) evaluateOne(ctx context.Context, studentID string) (unlocked []*achievement.Achievement, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.evaluator.ProcessStudent(ctx, studentID, j.config.Source)
}
