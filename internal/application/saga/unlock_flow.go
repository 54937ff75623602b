// Package saga contains multi-step business processes that orchestrate
// several domain operations for one student.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/investment"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK FLOW SAGA
// Flow: Load Active Automatic Achievements → Compute Metrics (once) →
//
//	Load Revocations → Evaluate Each → Insert Unlock (idempotent) →
//	Upsert Progress → Publish Events
//
// Every achievement in one pass sees the same metrics snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsSource computes the metrics snapshot for one student.
type MetricsSource interface {
	Compute(ctx context.Context, studentID string) (investment.Metrics, error)
}

// UnlockFlowStep names a step of the flow for error reporting.
type UnlockFlowStep string

const (
	StepValidateInput    UnlockFlowStep = "validate_input"
	StepLoadAchievements UnlockFlowStep = "load_achievements"
	StepComputeMetrics   UnlockFlowStep = "compute_metrics"
	StepLoadRevocations  UnlockFlowStep = "load_revocations"
	StepGrantUnlock      UnlockFlowStep = "grant_unlock"
	StepUpsertProgress   UnlockFlowStep = "upsert_progress"
)

// UnlockFlowError reports which step failed for which student.
type UnlockFlowError struct {
	StudentID string
	Step      UnlockFlowStep
	Err       error
}

func (e *UnlockFlowError) Error() string {
	return fmt.Sprintf("unlock_flow: student %s failed at %s: %v", e.StudentID, e.Step, e.Err)
}

func (e *UnlockFlowError) Unwrap() error { return e.Err }

// UnlockFlowConfig contains configuration for the unlock flow.
type UnlockFlowConfig struct {
	// RegrantPolicy decides whether revocation tombstones block re-grant.
	RegrantPolicy achievement.RegrantPolicy
}

// DefaultUnlockFlowConfig returns default configuration.
func DefaultUnlockFlowConfig() UnlockFlowConfig {
	return UnlockFlowConfig{RegrantPolicy: achievement.RegrantAllowed}
}

// UnlockFlow is the automatic path of the Unlock Manager.
type UnlockFlow struct {
	achievements achievement.Repository
	unlocks      achievement.UnlockStore
	progress     achievement.ProgressStore
	revocations  achievement.RevocationStore
	metrics      MetricsSource
	eventBus     shared.EventPublisher
	log          *logger.Logger
	now          func() time.Time

	policy achievement.RegrantPolicy
}

// NewUnlockFlow creates a new UnlockFlow. revocations may be nil when the
// policy is RegrantAllowed.
func NewUnlockFlow(
	achievements achievement.Repository,
	unlocks achievement.UnlockStore,
	progress achievement.ProgressStore,
	revocations achievement.RevocationStore,
	metrics MetricsSource,
	eventBus shared.EventPublisher,
	log *logger.Logger,
	config UnlockFlowConfig,
) *UnlockFlow {
	if eventBus == nil {
		eventBus = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	policy := config.RegrantPolicy
	if policy == "" {
		policy = achievement.RegrantAllowed
	}
	return &UnlockFlow{
		achievements: achievements,
		unlocks:      unlocks,
		progress:     progress,
		revocations:  revocations,
		metrics:      metrics,
		eventBus:     eventBus,
		log:          log.With(logger.Component("unlock_flow")),
		now:          func() time.Time { return time.Now().UTC() },
		policy:       policy,
	}
}

// WithClock overrides the time source used for unlock and progress timestamps.
func (f *UnlockFlow) WithClock(now func() time.Time) *UnlockFlow {
	f.now = now
	return f
}

// Policy returns the configured re-grant policy.
func (f *UnlockFlow) Policy() achievement.RegrantPolicy { return f.policy }

// ProcessStudent evaluates every active automatic achievement for one student
// and returns the achievements unlocked by this call only. On error the
// returned slice still holds the unlocks stored before the failure; their
// events have already been published.
func (f *UnlockFlow) ProcessStudent(ctx context.Context, studentID string, source achievement.Source) ([]*achievement.Achievement, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, &UnlockFlowError{StudentID: studentID, Step: StepValidateInput, Err: shared.ErrInvalidStudentID}
	}
	fail := func(step UnlockFlowStep, err error) error {
		return &UnlockFlowError{StudentID: studentID, Step: step, Err: err}
	}

	// Step 1: Load active automatic achievements
	defs, err := f.achievements.ListActiveAutomatic(ctx)
	if err != nil {
		return nil, fail(StepLoadAchievements, err)
	}
	if len(defs) == 0 {
		return []*achievement.Achievement{}, nil
	}

	// Step 2: Compute one metrics snapshot
	metrics, err := f.metrics.Compute(ctx, studentID)
	if err != nil {
		return nil, fail(StepComputeMetrics, err)
	}

	// Step 3: Revocation tombstones
	revoked := map[int64]bool{}
	if f.policy == achievement.RegrantSuppressed && f.revocations != nil {
		if revoked, err = f.revocations.RevokedAchievements(ctx, studentID); err != nil {
			return nil, fail(StepLoadRevocations, err)
		}
	}

	// Step 4: Evaluate, grant, record progress
	newlyUnlocked := make([]*achievement.Achievement, 0)
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return newlyUnlocked, fail(StepGrantUnlock, err)
		}

		ev, ok := achievement.EvaluateAchievement(def, metrics)
		if !ok {
			continue
		}
		now := f.now()

		if ev.Holds && !revoked[def.ID] {
			value := ev.CurrentValue
			inserted, err := f.unlocks.TryInsertUnlock(ctx, achievement.Unlock{
				StudentID:     studentID,
				AchievementID: def.ID,
				UnlockedAt:    now,
				Metadata: achievement.UnlockMetadata{
					Source:       source,
					Metric:       ev.Key,
					TriggerValue: &value,
					Timestamp:    now,
				},
			})
			if err != nil {
				return newlyUnlocked, fail(StepGrantUnlock, fmt.Errorf("achievement %d: %w", def.ID, err))
			}
			if inserted {
				// inserted is reported once per unlock, so publish here.
				newlyUnlocked = append(newlyUnlocked, def)
				f.publishUnlock(studentID, def, source, value)
			}
		} else if ev.Holds {
			f.log.Debug("re-grant suppressed by revocation",
				logger.StudentID(studentID), logger.AchievementID(def.ID))
		}

		if err := f.progress.UpsertProgress(ctx, achievement.Progress{
			StudentID:     studentID,
			AchievementID: def.ID,
			CurrentValue:  ev.CurrentValue,
			LastUpdated:   now,
		}); err != nil {
			return newlyUnlocked, fail(StepUpsertProgress, fmt.Errorf("achievement %d: %w", def.ID, err))
		}
	}

	if len(newlyUnlocked) > 0 {
		f.log.Info("achievements unlocked",
			logger.StudentID(studentID), logger.Source(string(source)), logger.UnlockCount(len(newlyUnlocked)))
	}

	return newlyUnlocked, nil
}

// publishUnlock is non-critical: a failed publish is logged and the unlock
// stands.
func (f *UnlockFlow) publishUnlock(studentID string, def *achievement.Achievement, source achievement.Source, value float64) {
	event := shared.NewAchievementUnlockedEvent(studentID, def.ID, def.Name, string(def.Rarity),
		def.Points, string(source), value, "")
	if err := f.eventBus.Publish(event); err != nil {
		f.log.Warn("failed to publish unlock event",
			logger.StudentID(studentID), logger.AchievementID(def.ID), logger.Err(err))
	}
}

// ProcessStudentSafe is the failure boundary around ProcessStudent: errors
// and panics are logged and reported as zero unlocks.
func (f *UnlockFlow) ProcessStudentSafe(ctx context.Context, studentID string, source achievement.Source) (unlocked []*achievement.Achievement) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("panic while processing student",
				logger.StudentID(studentID), logger.Source(string(source)), logger.F("panic", r))
			unlocked = []*achievement.Achievement{}
		}
	}()

	unlocked, err := f.ProcessStudent(ctx, studentID, source)
	if err != nil {
		level := f.log.Error
		if errors.Is(err, context.Canceled) {
			level = f.log.Warn
		}
		level("failed to process student",
			logger.StudentID(studentID), logger.Source(string(source)), logger.Err(err))
		return []*achievement.Achievement{}
	}
	return unlocked
}
