package command

import (
	"context"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/pkg/logger"
)

// DeleteAchievementCommand removes a definition. Deletion is refused with
// shared.ErrAchievementInUse while any student holds the achievement;
// deactivate it through DefineAchievementCommand instead.
type DeleteAchievementCommand struct {
	AchievementID int64  `validate:"required,gt=0"`
	AdminID       string `validate:"max=128"`
}

// Validate validates the command.
func (c DeleteAchievementCommand) Validate() error {
	return validateCommand("delete_achievement", c)
}

// DeleteAchievementHandler handles the DeleteAchievementCommand.
type DeleteAchievementHandler struct {
	achievements   achievement.Repository
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewDeleteAchievementHandler creates a new DeleteAchievementHandler.
func NewDeleteAchievementHandler(achievements achievement.Repository, eventPublisher shared.EventPublisher, log *logger.Logger) *DeleteAchievementHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DeleteAchievementHandler{
		achievements:   achievements,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("delete_achievement")),
	}
}

// Handle executes the command.
func (h *DeleteAchievementHandler) Handle(ctx context.Context, cmd DeleteAchievementCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	def, err := h.achievements.GetByID(ctx, cmd.AchievementID)
	if err != nil {
		return err
	}

	if err := h.achievements.Delete(ctx, def.ID); err != nil {
		if shared.IsConflict(err) {
			h.log.Warn("refused to delete achievement in use", logger.AchievementID(def.ID))
		}
		return err
	}

	if err := h.eventPublisher.Publish(shared.NewAchievementCatalogEvent(shared.EventAchievementDeleted, def.ID, def.Name, cmd.AdminID)); err != nil {
		h.log.Warn("failed to publish delete event", logger.AchievementID(def.ID), logger.Err(err))
	}
	h.log.Info("achievement deleted", logger.AchievementID(def.ID), logger.AdminID(cmd.AdminID))
	return nil
}
