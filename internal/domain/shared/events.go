package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	// Ledger events (published by the investment collaborator)
	EventInvestmentRecorded EventType = "investment.recorded"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventAchievementRevoked  EventType = "achievement.revoked"
	EventRevocationCleared   EventType = "achievement.revocation_cleared"
	EventAchievementDeleted  EventType = "achievement.deleted"
	EventAchievementDefined  EventType = "achievement.defined"

	// System events
	EventBatchCompleted EventType = "system.batch_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the student ID for student-scoped events.
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent creates a new base event stamped with the current UTC time.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// InvestmentRecordedEvent announces a new ledger entry for a student.
type InvestmentRecordedEvent struct {
	BaseEvent
	StudentID    string  `json:"student_id"`
	InvestmentID string  `json:"investment_id"`
	Amount       float64 `json:"amount"`
	CategoryID   *int64  `json:"category_id,omitempty"`
}

// Payload implements Event interface.
func (e InvestmentRecordedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"student_id":    e.StudentID,
		"investment_id": e.InvestmentID,
		"amount":        e.Amount,
	}
	if e.CategoryID != nil {
		p["category_id"] = *e.CategoryID
	}
	return p
}

// NewInvestmentRecordedEvent creates a new InvestmentRecordedEvent.
func NewInvestmentRecordedEvent(studentID, investmentID string, amount float64, categoryID *int64) InvestmentRecordedEvent {
	return InvestmentRecordedEvent{
		BaseEvent:    NewBaseEvent(EventInvestmentRecorded, studentID),
		StudentID:    studentID,
		InvestmentID: investmentID,
		Amount:       amount,
		CategoryID:   categoryID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per newly inserted unlock row.
type AchievementUnlockedEvent struct {
	BaseEvent
	StudentID     string  `json:"student_id"`
	AchievementID int64   `json:"achievement_id"`
	Name          string  `json:"name"`
	Rarity        string  `json:"rarity"`
	Points        int     `json:"points"`
	Source        string  `json:"source"`
	TriggerValue  float64 `json:"trigger_value"`
	AdminID       string  `json:"admin_id,omitempty"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"rarity":         e.Rarity,
		"points":         e.Points,
		"source":         e.Source,
		"trigger_value":  e.TriggerValue,
		"admin_id":       e.AdminID,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(studentID string, achievementID int64, name, rarity string, points int, source string, value float64, adminID string) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, studentID),
		StudentID:     studentID,
		AchievementID: achievementID,
		Name:          name,
		Rarity:        rarity,
		Points:        points,
		Source:        source,
		TriggerValue:  value,
		AdminID:       adminID,
	}
}

// AchievementRevokedEvent is emitted when an unlock row is deleted by an admin.
type AchievementRevokedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	AchievementID int64  `json:"achievement_id"`
	AdminID       string `json:"admin_id"`
	Suppressed    bool   `json:"suppressed"`
}

// Payload implements Event interface.
func (e AchievementRevokedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"achievement_id": e.AchievementID,
		"admin_id":       e.AdminID,
		"suppressed":     e.Suppressed,
	}
}

// NewAchievementRevokedEvent creates a new AchievementRevokedEvent.
func NewAchievementRevokedEvent(studentID string, achievementID int64, adminID string, suppressed bool) AchievementRevokedEvent {
	return AchievementRevokedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementRevoked, studentID),
		StudentID:     studentID,
		AchievementID: achievementID,
		AdminID:       adminID,
		Suppressed:    suppressed,
	}
}

// RevocationClearedEvent is emitted when an admin removes a revocation tombstone.
type RevocationClearedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	AchievementID int64  `json:"achievement_id"`
	AdminID       string `json:"admin_id"`
}

// Payload implements Event interface.
func (e RevocationClearedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"achievement_id": e.AchievementID,
		"admin_id":       e.AdminID,
	}
}

// NewRevocationClearedEvent creates a new RevocationClearedEvent.
func NewRevocationClearedEvent(studentID string, achievementID int64, adminID string) RevocationClearedEvent {
	return RevocationClearedEvent{
		BaseEvent:     NewBaseEvent(EventRevocationCleared, studentID),
		StudentID:     studentID,
		AchievementID: achievementID,
		AdminID:       adminID,
	}
}

// AchievementCatalogEvent is emitted when a definition is created, updated
// or deleted. Type is EventAchievementDefined or EventAchievementDeleted.
type AchievementCatalogEvent struct {
	BaseEvent
	AchievementID int64  `json:"achievement_id"`
	Name          string `json:"name"`
	AdminID       string `json:"admin_id,omitempty"`
}

// Payload implements Event interface.
func (e AchievementCatalogEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"admin_id":       e.AdminID,
	}
}

// NewAchievementCatalogEvent creates a catalog event for the given type.
func NewAchievementCatalogEvent(eventType EventType, achievementID int64, name, adminID string) AchievementCatalogEvent {
	return AchievementCatalogEvent{
		BaseEvent:     NewBaseEvent(eventType, "catalog"),
		AchievementID: achievementID,
		Name:          name,
		AdminID:       adminID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// BatchCompletedEvent summarizes one Batch Runner pass.
type BatchCompletedEvent struct {
	BaseEvent
	Source         string        `json:"source"`
	ProcessedCount int           `json:"processed_count"`
	ErrorCount     int           `json:"error_count"`
	UnlockCount    int           `json:"unlock_count"`
	Duration       time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e BatchCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"source":          e.Source,
		"processed_count": e.ProcessedCount,
		"error_count":     e.ErrorCount,
		"unlock_count":    e.UnlockCount,
		"duration":        e.Duration.String(),
	}
}

// NewBatchCompletedEvent creates a new BatchCompletedEvent.
func NewBatchCompletedEvent(source string, processed, failed, unlocked int, duration time.Duration) BatchCompletedEvent {
	return BatchCompletedEvent{
		BaseEvent:      NewBaseEvent(EventBatchCompleted, "system"),
		Source:         source,
		ProcessedCount: processed,
		ErrorCount:     failed,
		UnlockCount:    unlocked,
		Duration:       duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	ID          string          `json:"id"`
	InstanceID  string          `json:"instance_id,omitempty"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }
