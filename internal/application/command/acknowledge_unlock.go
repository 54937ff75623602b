package command

import (
	"context"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

// AcknowledgeUnlockCommand marks an unlock as seen and/or celebrated.
type AcknowledgeUnlockCommand struct {
	StudentID        string `validate:"required,uuid"`
	AchievementID    int64  `validate:"required,gt=0"`
	Seen             bool
	CelebrationShown bool
}

// Validate validates the command.
func (c AcknowledgeUnlockCommand) Validate() error {
	if err := validateCommand("acknowledge_unlock", c); err != nil {
		return err
	}
	if !c.Seen && !c.CelebrationShown {
		return shared.NewDomainError("command", "acknowledge_unlock", shared.ErrInvalidInput,
			"seen or celebration_shown must be set")
	}
	return nil
}

// AcknowledgeUnlockHandler handles the AcknowledgeUnlockCommand.
type AcknowledgeUnlockHandler struct {
	unlocks achievement.UnlockStore
}

// NewAcknowledgeUnlockHandler creates a new AcknowledgeUnlockHandler.
func NewAcknowledgeUnlockHandler(unlocks achievement.UnlockStore) *AcknowledgeUnlockHandler {
	return &AcknowledgeUnlockHandler{unlocks: unlocks}
}

// Handle executes the command. Flags only move from false to true.
func (h *AcknowledgeUnlockHandler) Handle(ctx context.Context, cmd AcknowledgeUnlockCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return h.unlocks.MarkAcknowledged(ctx, cmd.StudentID, cmd.AchievementID, cmd.Seen, cmd.CelebrationShown)
}
