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
// AWARD ACHIEVEMENT COMMAND
// Manual path of the Unlock Manager. Only manual achievements can be awarded
// this way; automatic ones are never granted around their condition.
// ══════════════════════════════════════════════════════════════════════════════

// AwardAchievementCommand contains the data needed to award a manual achievement.
type AwardAchievementCommand struct {
	StudentID     string `validate:"required,uuid"`
	AchievementID int64  `validate:"required,gt=0"`

	// AdminID is recorded in the unlock metadata.
	AdminID string `validate:"required,max=128"`

	// Note is an optional free-text reason.
	Note string `validate:"max=500"`
}

// Validate validates the command.
func (c AwardAchievementCommand) Validate() error {
	return validateCommand("award_achievement", c)
}

// AwardAchievementResult contains the result of an award.
type AwardAchievementResult struct {
	Achievement *achievement.Achievement
	Unlock      *achievement.Unlock

	// Created is false when the student already had the achievement.
	Created bool
}

// AwardAchievementHandlerConfig contains configuration for the handler.
type AwardAchievementHandlerConfig struct {
	// AllowInactive permits awarding deactivated definitions.
	AllowInactive bool
}

// DefaultAwardAchievementHandlerConfig returns default configuration.
func DefaultAwardAchievementHandlerConfig() AwardAchievementHandlerConfig {
	return AwardAchievementHandlerConfig{AllowInactive: false}
}

// AwardAchievementHandler handles the AwardAchievementCommand.
type AwardAchievementHandler struct {
	achievements   achievement.Repository
	unlocks        achievement.UnlockStore
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	now            func() time.Time

	allowInactive bool
}

// NewAwardAchievementHandler creates a new AwardAchievementHandler.
func NewAwardAchievementHandler(
	achievements achievement.Repository,
	unlocks achievement.UnlockStore,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config AwardAchievementHandlerConfig,
) *AwardAchievementHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AwardAchievementHandler{
		achievements:   achievements,
		unlocks:        unlocks,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("award_achievement")),
		now:            func() time.Time { return time.Now().UTC() },
		allowInactive:  config.AllowInactive,
	}
}

// Handle executes the award. It is idempotent: awarding an achievement the
// student already holds returns the existing unlock with Created=false.
func (h *AwardAchievementHandler) Handle(ctx context.Context, cmd AwardAchievementCommand) (*AwardAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	def, err := h.achievements.GetByID(ctx, cmd.AchievementID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive && !h.allowInactive {
		return nil, shared.ErrAchievementNotFound
	}
	if !def.IsManual() {
		return nil, shared.ErrAchievementNotManual
	}

	now := h.now()
	unlock := achievement.Unlock{
		StudentID:     cmd.StudentID,
		AchievementID: def.ID,
		UnlockedAt:    now,
		Metadata: achievement.UnlockMetadata{
			Source:    achievement.SourceManual,
			AdminID:   cmd.AdminID,
			Note:      cmd.Note,
			Timestamp: now,
		},
	}

	inserted, err := h.unlocks.TryInsertUnlock(ctx, unlock)
	if err != nil {
		return nil, fmt.Errorf("award_achievement: insert unlock: %w", err)
	}

	if !inserted {
		existing, err := h.unlocks.GetUnlock(ctx, cmd.StudentID, def.ID)
		if err != nil {
			return nil, fmt.Errorf("award_achievement: load existing unlock: %w", err)
		}
		return &AwardAchievementResult{Achievement: def, Unlock: existing, Created: false}, nil
	}

	event := shared.NewAchievementUnlockedEvent(cmd.StudentID, def.ID, def.Name, string(def.Rarity),
		def.Points, string(achievement.SourceManual), 0, cmd.AdminID)
	if err := h.eventPublisher.Publish(event); err != nil {
		h.log.Warn("failed to publish unlock event", logger.StudentID(cmd.StudentID),
			logger.AchievementID(def.ID), logger.Err(err))
	}

	h.log.Info("achievement awarded", logger.StudentID(cmd.StudentID),
		logger.AchievementID(def.ID), logger.AdminID(cmd.AdminID))

	return &AwardAchievementResult{Achievement: def, Unlock: &unlock, Created: true}, nil
}
