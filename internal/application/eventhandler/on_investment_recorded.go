// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON INVESTMENT RECORDED HANDLER
// Обрабатывает событие новой инвестиции студента: сразу пересчитывает его
// достижения, чтобы студент увидел разблокировку почти в реальном времени,
// не дожидаясь плановой пакетной проверки.
// ═══════════════════════════════════════════════════════════════════════════

// StudentProcessor - автоматический путь Unlock Manager с изоляцией ошибок.
type StudentProcessor interface {
	ProcessStudentSafe(ctx context.Context, studentID string, source achievement.Source) []*achievement.Achievement
}

// InvestmentRecordedConfig содержит конфигурацию обработчика.
type InvestmentRecordedConfig struct {
	// Timeout - ограничение времени на оценку одного студента.
	Timeout time.Duration

	// ShouldEvaluate - необязательный фильтр (feature flag с постепенным
	// включением). nil означает "оценивать всех".
	ShouldEvaluate func(studentID string) bool
}

// DefaultInvestmentRecordedConfig возвращает конфигурацию по умолчанию.
func DefaultInvestmentRecordedConfig() InvestmentRecordedConfig {
	return InvestmentRecordedConfig{Timeout: 30 * time.Second}
}

// OnInvestmentRecordedHandler обрабатывает событие investment.recorded.
type OnInvestmentRecordedHandler struct {
	processor StudentProcessor
	logger    *slog.Logger
	config    InvestmentRecordedConfig
}

// NewOnInvestmentRecordedHandler создаёт новый обработчик.
func NewOnInvestmentRecordedHandler(processor StudentProcessor, logger *slog.Logger, config InvestmentRecordedConfig) *OnInvestmentRecordedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultInvestmentRecordedConfig().Timeout
	}
	return &OnInvestmentRecordedHandler{
		processor: processor,
		logger:    logger.With("handler", "on_investment_recorded"),
		config:    config,
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
// Ошибки оценки логируются внутри ProcessStudentSafe и не возвращаются,
// чтобы шина не повторяла событие бесконечно.
func (h *OnInvestmentRecordedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventInvestmentRecorded {
		h.logger.Warn("received unexpected event", "event_type", event.EventType())
		return nil
	}

	// Событие может прийти как типизированное (in-memory шина)
	// или как конверт из Redis - в обоих случаях aggregate = студент.
	studentID := event.AggregateID()
	if typed, ok := event.(shared.InvestmentRecordedEvent); ok && typed.StudentID != "" {
		studentID = typed.StudentID
	}
	if studentID == "" {
		h.logger.Warn("investment event without student id")
		return nil
	}

	if h.config.ShouldEvaluate != nil && !h.config.ShouldEvaluate(studentID) {
		h.logger.Debug("event evaluation disabled for student", "student_id", studentID)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	start := time.Now()
	unlocked := h.processor.ProcessStudentSafe(ctx, studentID, achievement.SourceInvestmentEvent)

	h.logger.Info("student evaluated after investment",
		"student_id", studentID,
		"unlocked", len(unlocked),
		"duration", time.Since(start),
	)
	return nil
}
