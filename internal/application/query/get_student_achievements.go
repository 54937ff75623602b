// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT ACHIEVEMENTS QUERY
// Возвращает полученные достижения студента и прогресс по ещё не открытым.
// Прогресс показывается и после разблокировки, но не больше 100%.
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentAchievementsQuery содержит параметры запроса.
type GetStudentAchievementsQuery struct {
	// StudentID - UUID студента.
	StudentID string
}

// Validate проверяет корректность параметров запроса.
func (q GetStudentAchievementsQuery) Validate() error {
	if _, err := shared.NewStudentID(q.StudentID); err != nil {
		return err
	}
	return nil
}

// UnlockedAchievementDTO - полученное достижение.
type UnlockedAchievementDTO struct {
	AchievementID    int64     `json:"achievement_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Rarity           string    `json:"rarity"`
	Points           int       `json:"points"`
	UnlockedAt       time.Time `json:"unlocked_at"`
	Seen             bool      `json:"seen"`
	CelebrationShown bool      `json:"celebration_shown"`
	Source           string    `json:"source"`
}

// AchievementProgressDTO - прогресс по автоматическому достижению.
type AchievementProgressDTO struct {
	AchievementID int64      `json:"achievement_id"`
	Name          string     `json:"name"`
	Rarity        string     `json:"rarity"`
	Metric        string     `json:"metric"`
	Operator      string     `json:"operator"`
	Threshold     float64    `json:"threshold"`
	CurrentValue  float64    `json:"current_value"`
	Percent       float64    `json:"percent"`
	Unlocked      bool       `json:"unlocked"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
}

// StudentAchievementsDTO - ответ запроса.
type StudentAchievementsDTO struct {
	StudentID   string                   `json:"student_id"`
	Unlocked    []UnlockedAchievementDTO `json:"unlocked"`
	Progress    []AchievementProgressDTO `json:"progress"`
	TotalPoints int                      `json:"total_points"`
	UnseenCount int                      `json:"unseen_count"`
}

// GetStudentAchievementsHandler обрабатывает запрос.
type GetStudentAchievementsHandler struct {
	achievements achievement.Repository
	unlocks      achievement.UnlockStore
	progress     achievement.ProgressStore
}

// NewGetStudentAchievementsHandler создаёт новый обработчик.
func NewGetStudentAchievementsHandler(
	achievements achievement.Repository,
	unlocks achievement.UnlockStore,
	progress achievement.ProgressStore,
) *GetStudentAchievementsHandler {
	return &GetStudentAchievementsHandler{
		achievements: achievements,
		unlocks:      unlocks,
		progress:     progress,
	}
}

// Handle выполняет запрос.
func (h *GetStudentAchievementsHandler) Handle(ctx context.Context, q GetStudentAchievementsQuery) (*StudentAchievementsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	active, err := h.achievements.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	defs := make(map[int64]*achievement.Achievement, len(active))
	for _, a := range active {
		defs[a.ID] = a
	}

	unlocks, err := h.unlocks.ListUnlocks(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load unlocks: %w", err)
	}
	progressRows, err := h.progress.ListProgress(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	progressByID := make(map[int64]achievement.Progress, len(progressRows))
	for _, p := range progressRows {
		progressByID[p.AchievementID] = p
	}

	result := &StudentAchievementsDTO{
		StudentID: q.StudentID,
		Unlocked:  make([]UnlockedAchievementDTO, 0, len(unlocks)),
		Progress:  make([]AchievementProgressDTO, 0),
	}

	unlockedIDs := make(map[int64]bool, len(unlocks))
	for _, u := range unlocks {
		def, ok := defs[u.AchievementID]
		if !ok {
			// Полученные достижения остаются видны даже после деактивации.
			if def, err = h.achievements.GetByID(ctx, u.AchievementID); err != nil {
				continue
			}
		}
		unlockedIDs[u.AchievementID] = true
		result.Unlocked = append(result.Unlocked, UnlockedAchievementDTO{
			AchievementID:    def.ID,
			Name:             def.Name,
			Description:      def.Description,
			Category:         def.Category,
			Rarity:           string(def.Rarity),
			Points:           def.Points,
			UnlockedAt:       u.UnlockedAt,
			Seen:             u.Seen,
			CelebrationShown: u.CelebrationShown,
			Source:           string(u.Metadata.Source),
		})
		result.TotalPoints += def.Points
		if !u.Seen {
			result.UnseenCount++
		}
	}

	for _, def := range active {
		if !def.IsAutomatic() || def.TriggerConfig == nil {
			continue
		}
		dto := AchievementProgressDTO{
			AchievementID: def.ID,
			Name:          def.Name,
			Rarity:        string(def.Rarity),
			Metric:        def.TriggerConfig.Metric,
			Operator:      def.TriggerConfig.Operator,
			Threshold:     def.TriggerConfig.Value,
			Unlocked:      unlockedIDs[def.ID],
		}
		if p, ok := progressByID[def.ID]; ok {
			updated := p.LastUpdated
			dto.CurrentValue = p.CurrentValue
			dto.LastUpdated = &updated
			dto.Percent = p.Percent(def.TriggerConfig.Value)
		}
		if dto.Unlocked {
			dto.Percent = 100
		}
		result.Progress = append(result.Progress, dto)
	}

	return result, nil
}
