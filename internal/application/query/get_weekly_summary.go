package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET WEEKLY SUMMARY QUERY
// Сколько раз каждое достижение было получено с указанного момента.
// Используется еженедельной задачей отчёта.
// ══════════════════════════════════════════════════════════════════════════════

// GetWeeklySummaryQuery содержит параметры запроса.
type GetWeeklySummaryQuery struct {
	// Since - начало периода (включительно).
	Since time.Time

	// Until - конец периода, только для отчёта (по умолчанию сейчас).
	Until time.Time
}

// SummaryEntryDTO - одна строка отчёта.
type SummaryEntryDTO struct {
	AchievementID int64  `json:"achievement_id"`
	Name          string `json:"name"`
	Rarity        string `json:"rarity"`
	Unlocks       int    `json:"unlocks"`
}

// WeeklySummaryDTO - отчёт за период.
type WeeklySummaryDTO struct {
	Since        time.Time         `json:"since"`
	Until        time.Time         `json:"until"`
	Entries      []SummaryEntryDTO `json:"entries"`
	TotalUnlocks int               `json:"total_unlocks"`
}

// GetWeeklySummaryHandler обрабатывает запрос.
type GetWeeklySummaryHandler struct {
	achievements achievement.Repository
	unlocks      achievement.UnlockStore
}

// NewGetWeeklySummaryHandler создаёт новый обработчик.
func NewGetWeeklySummaryHandler(achievements achievement.Repository, unlocks achievement.UnlockStore) *GetWeeklySummaryHandler {
	return &GetWeeklySummaryHandler{achievements: achievements, unlocks: unlocks}
}

// Handle выполняет запрос. Строки отсортированы по числу получений (desc).
func (h *GetWeeklySummaryHandler) Handle(ctx context.Context, q GetWeeklySummaryQuery) (*WeeklySummaryDTO, error) {
	if q.Until.IsZero() {
		q.Until = time.Now().UTC()
	}

	counts, err := h.unlocks.CountUnlockedSince(ctx, q.Since)
	if err != nil {
		return nil, fmt.Errorf("count unlocks: %w", err)
	}

	result := &WeeklySummaryDTO{Since: q.Since, Until: q.Until, Entries: make([]SummaryEntryDTO, 0, len(counts))}
	for id, n := range counts {
		entry := SummaryEntryDTO{AchievementID: id, Unlocks: n}
		if def, err := h.achievements.GetByID(ctx, id); err == nil {
			entry.Name = def.Name
			entry.Rarity = string(def.Rarity)
		}
		result.Entries = append(result.Entries, entry)
		result.TotalUnlocks += n
	}

	sort.Slice(result.Entries, func(i, j int) bool {
		if result.Entries[i].Unlocks == result.Entries[j].Unlocks {
			return result.Entries[i].AchievementID < result.Entries[j].AchievementID
		}
		return result.Entries[i].Unlocks > result.Entries[j].Unlocks
	})

	return result, nil
}
