package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEFINE ACHIEVEMENT COMMAND
// Creates or updates an achievement definition. Trigger configs are checked
// with achievement.ParseTrigger before anything is stored.
// ══════════════════════════════════════════════════════════════════════════════

// DefineAchievementCommand contains a full achievement definition.
type DefineAchievementCommand struct {
	// ID selects the definition to update; 0 creates a new one.
	ID int64 `validate:"gte=0"`

	// UpsertByName resolves ID from Name when ID is 0.
	UpsertByName bool

	Name          string
	Description   string
	Category      string
	Rarity        achievement.Rarity
	TriggerType   achievement.TriggerType
	TriggerConfig *achievement.TriggerConfig
	Points        int
	IsActive      bool

	AdminID string `validate:"max=128"`
}

// Validate validates the command and the definition it carries.
func (c DefineAchievementCommand) Validate() error {
	if err := validateCommand("define_achievement", c); err != nil {
		return err
	}
	return c.toAchievement().Validate()
}

func (c DefineAchievementCommand) toAchievement() *achievement.Achievement {
	rarity := c.Rarity
	if rarity == "" {
		rarity = achievement.RarityCommon
	}
	return &achievement.Achievement{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Category:      c.Category,
		Rarity:        rarity,
		TriggerType:   c.TriggerType,
		TriggerConfig: c.TriggerConfig,
		Points:        c.Points,
		IsActive:      c.IsActive,
	}
}

// DefineAchievementResult contains the stored definition.
type DefineAchievementResult struct {
	Achievement *achievement.Achievement
	Created     bool
}

// DefineAchievementHandler handles the DefineAchievementCommand.
type DefineAchievementHandler struct {
	achievements   achievement.Repository
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewDefineAchievementHandler creates a new DefineAchievementHandler.
func NewDefineAchievementHandler(achievements achievement.Repository, eventPublisher shared.EventPublisher, log *logger.Logger) *DefineAchievementHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DefineAchievementHandler{
		achievements:   achievements,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("define_achievement")),
	}
}

// Handle executes the command.
func (h *DefineAchievementHandler) Handle(ctx context.Context, cmd DefineAchievementCommand) (*DefineAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	a := cmd.toAchievement()
	if a.ID == 0 && cmd.UpsertByName {
		existing, err := h.achievements.GetByName(ctx, a.Name)
		switch {
		case err == nil:
			a.ID = existing.ID
		case errors.Is(err, shared.ErrNotFound):
		default:
			return nil, fmt.Errorf("define_achievement: lookup by name: %w", err)
		}
	}
	created := a.ID == 0

	if err := h.achievements.Save(ctx, a); err != nil {
		return nil, err
	}

	if err := h.eventPublisher.Publish(shared.NewAchievementCatalogEvent(shared.EventAchievementDefined, a.ID, a.Name, cmd.AdminID)); err != nil {
		h.log.Warn("failed to publish definition event", logger.AchievementID(a.ID), logger.Err(err))
	}
	h.log.Info("achievement defined", logger.AchievementID(a.ID), logger.String("name", a.Name),
		logger.Bool("created", created))

	return &DefineAchievementResult{Achievement: a, Created: created}, nil
}
