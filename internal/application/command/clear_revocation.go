package command

import (
	"context"
	"fmt"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/pkg/logger"
)

// ClearRevocationCommand removes a revocation tombstone so the automatic path
// may grant the achievement again.
type ClearRevocationCommand struct {
	StudentID     string `validate:"required,uuid"`
	AchievementID int64  `validate:"required,gt=0"`
	AdminID       string `validate:"required,max=128"`
}

// Validate validates the command.
func (c ClearRevocationCommand) Validate() error {
	return validateCommand("clear_revocation", c)
}

// ClearRevocationHandler handles the ClearRevocationCommand.
type ClearRevocationHandler struct {
	revocations    achievement.RevocationStore
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewClearRevocationHandler creates a new ClearRevocationHandler.
func NewClearRevocationHandler(revocations achievement.RevocationStore, eventPublisher shared.EventPublisher, log *logger.Logger) *ClearRevocationHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ClearRevocationHandler{
		revocations:    revocations,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("clear_revocation")),
	}
}

// Handle executes the command. It returns shared.ErrRevocationNotFound when
// no tombstone exists.
func (h *ClearRevocationHandler) Handle(ctx context.Context, cmd ClearRevocationCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	deleted, err := h.revocations.DeleteRevocation(ctx, cmd.StudentID, cmd.AchievementID)
	if err != nil {
		return fmt.Errorf("clear_revocation: %w", err)
	}
	if !deleted {
		return shared.ErrRevocationNotFound
	}

	if err := h.eventPublisher.Publish(shared.NewRevocationClearedEvent(cmd.StudentID, cmd.AchievementID, cmd.AdminID)); err != nil {
		h.log.Warn("failed to publish revocation cleared event", logger.Err(err))
	}
	h.log.Info("revocation cleared", logger.StudentID(cmd.StudentID),
		logger.AchievementID(cmd.AchievementID), logger.AdminID(cmd.AdminID))
	return nil
}
