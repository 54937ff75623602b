package command

import (
	"context"
	"fmt"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVOKE ACHIEVEMENT COMMAND
// Deletes an unlock regardless of trigger type. Under the suppress policy an
// automatic achievement also gets a revocation tombstone so the next
// evaluation does not grant it again.
// ══════════════════════════════════════════════════════════════════════════════

// RevokeAchievementCommand contains the data needed to revoke an unlock.
type RevokeAchievementCommand struct {
	StudentID     string `validate:"required,uuid"`
	AchievementID int64  `validate:"required,gt=0"`
	AdminID       string `validate:"required,max=128"`
	Reason        string `validate:"max=500"`
}

// Validate validates the command.
func (c RevokeAchievementCommand) Validate() error {
	return validateCommand("revoke_achievement", c)
}

// RevokeAchievementResult contains the result of a revoke.
type RevokeAchievementResult struct {
	// Deleted is false when there was no unlock to remove.
	Deleted bool

	// Suppressed is true when a tombstone now blocks automatic re-grant.
	Suppressed bool
}

// RevokeAchievementHandler handles the RevokeAchievementCommand.
type RevokeAchievementHandler struct {
	achievements   achievement.Repository
	unlocks        achievement.UnlockStore
	revocations    achievement.RevocationStore
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	now            func() time.Time

	policy achievement.RegrantPolicy
}

// NewRevokeAchievementHandler creates a new RevokeAchievementHandler.
func NewRevokeAchievementHandler(
	achievements achievement.Repository,
	unlocks achievement.UnlockStore,
	revocations achievement.RevocationStore,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	policy achievement.RegrantPolicy,
) *RevokeAchievementHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RevokeAchievementHandler{
		achievements:   achievements,
		unlocks:        unlocks,
		revocations:    revocations,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("revoke_achievement")),
		now:            func() time.Time { return time.Now().UTC() },
		policy:         policy,
	}
}

// Handle executes the revoke.
func (h *RevokeAchievementHandler) Handle(ctx context.Context, cmd RevokeAchievementCommand) (*RevokeAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	def, err := h.achievements.GetByID(ctx, cmd.AchievementID)
	if err != nil {
		return nil, err
	}

	deleted, err := h.unlocks.DeleteUnlock(ctx, cmd.StudentID, def.ID)
	if err != nil {
		return nil, fmt.Errorf("revoke_achievement: delete unlock: %w", err)
	}

	result := &RevokeAchievementResult{Deleted: deleted}

	if h.policy == achievement.RegrantSuppressed && def.IsAutomatic() && h.revocations != nil {
		err := h.revocations.SaveRevocation(ctx, achievement.Revocation{
			StudentID:     cmd.StudentID,
			AchievementID: def.ID,
			RevokedBy:     cmd.AdminID,
			Reason:        cmd.Reason,
			RevokedAt:     h.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("revoke_achievement: save revocation: %w", err)
		}
		result.Suppressed = true
	}

	if deleted {
		event := shared.NewAchievementRevokedEvent(cmd.StudentID, def.ID, cmd.AdminID, result.Suppressed)
		if err := h.eventPublisher.Publish(event); err != nil {
			h.log.Warn("failed to publish revoke event", logger.StudentID(cmd.StudentID),
				logger.AchievementID(def.ID), logger.Err(err))
		}
	}

	h.log.Info("achievement revoked",
		logger.StudentID(cmd.StudentID),
		logger.AchievementID(def.ID),
		logger.AdminID(cmd.AdminID),
		logger.Bool("deleted", deleted),
		logger.Bool("suppressed", result.Suppressed),
	)

	return result, nil
}
