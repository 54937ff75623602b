// Package achievement contains achievement definitions, unlock and progress
// records, the typed trigger model and the pure condition evaluator.
package achievement

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/classvest/achievement-engine/internal/domain/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Rarity is display and sort metadata only. It is never evaluated.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Rank orders rarities from common (0) to legendary (3).
func (r Rarity) Rank() int {
	switch r {
	case RarityRare:
		return 1
	case RarityEpic:
		return 2
	case RarityLegendary:
		return 3
	default:
		return 0
	}
}

// TriggerType decides whether the engine evaluates an achievement.
type TriggerType string

const (
	TriggerAutomatic TriggerType = "automatic"
	TriggerManual    TriggerType = "manual"
)

// Source records what caused an unlock.
type Source string

const (
	SourceInvestmentEvent Source = "investment_event"
	SourceScheduledBatch  Source = "scheduled_batch"
	SourceDailyStreak     Source = "daily_streak"
	SourceAPIRequest      Source = "api_request"
	SourceManual          Source = "manual"
)

// RegrantPolicy controls whether a revoked automatic achievement may be
// unlocked again by the next evaluation.
type RegrantPolicy string

const (
	// RegrantAllowed re-unlocks on the next evaluation if the condition holds.
	RegrantAllowed RegrantPolicy = "regrant"
	// RegrantSuppressed records a revocation tombstone that blocks automatic
	// re-grant until it is cleared.
	RegrantSuppressed RegrantPolicy = "suppress"
)

// ParseRegrantPolicy parses a policy name, defaulting to RegrantAllowed.
func ParseRegrantPolicy(s string) RegrantPolicy {
	if RegrantPolicy(strings.ToLower(strings.TrimSpace(s))) == RegrantSuppressed {
		return RegrantSuppressed
	}
	return RegrantAllowed
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT
// ══════════════════════════════════════════════════════════════════════════════

// TriggerConfig is the stored, loosely typed condition of an automatic
// achievement. Use ParseTrigger to obtain the typed form.
type TriggerConfig struct {
	Metric     string  `json:"metric" yaml:"metric" validate:"required,max=64"`
	Operator   string  `json:"operator" yaml:"operator" validate:"required,oneof=>= > = <= <"`
	Value      float64 `json:"value" yaml:"value"`
	CategoryID *int64  `json:"category_id,omitempty" yaml:"category_id,omitempty" validate:"omitempty,gt=0"`
}

// Achievement is the definition of a badge.
type Achievement struct {
	ID            int64          `validate:"gte=0"`
	Name          string         `validate:"required,max=120"`
	Description   string         `validate:"max=1000"`
	Category      string         `validate:"max=64"`
	Rarity        Rarity         `validate:"required,oneof=common rare epic legendary"`
	TriggerType   TriggerType    `validate:"required,oneof=automatic manual"`
	TriggerConfig *TriggerConfig `validate:"required_if=TriggerType automatic,excluded_if=TriggerType manual"`
	Points        int            `validate:"gte=0"`
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAutomatic reports whether the engine evaluates this achievement.
func (a *Achievement) IsAutomatic() bool {
	return a.TriggerType == TriggerAutomatic
}

// IsManual reports whether only an administrator can award it.
func (a *Achievement) IsManual() bool {
	return a.TriggerType == TriggerManual
}

// Validate checks the definition, including the trigger shape.
func (a *Achievement) Validate() error {
	if err := validate.Struct(a); err != nil {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidAchievement, "invalid achievement definition", err)
	}
	if a.IsAutomatic() {
		if _, err := ParseTrigger(*a.TriggerConfig); err != nil {
			return err
		}
	}
	return nil
}

// Trigger returns the typed trigger of an automatic achievement.
func (a *Achievement) Trigger() (Trigger, error) {
	if !a.IsAutomatic() || a.TriggerConfig == nil {
		return Trigger{}, shared.WrapError("achievement", "Trigger", shared.ErrInvalidTrigger,
			"achievement has no trigger", fmt.Errorf("achievement %d is %s", a.ID, a.TriggerType))
	}
	return ParseTrigger(*a.TriggerConfig)
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK, PROGRESS, REVOCATION
// ══════════════════════════════════════════════════════════════════════════════

// UnlockMetadata records what caused an unlock.
type UnlockMetadata struct {
	Source       Source    `json:"source"`
	Metric       string    `json:"metric,omitempty"`
	TriggerValue *float64  `json:"trigger_value,omitempty"`
	AdminID      string    `json:"admin_id,omitempty"`
	Note         string    `json:"note,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Unlock is the durable fact that a student earned an achievement. There is
// at most one per (StudentID, AchievementID).
type Unlock struct {
	StudentID        string
	AchievementID    int64
	UnlockedAt       time.Time
	Seen             bool
	CelebrationShown bool
	Metadata         UnlockMetadata
}

// Progress is the latest computed value toward an achievement. One row per
// pair, overwritten on every evaluation.
type Progress struct {
	StudentID     string
	AchievementID int64
	CurrentValue  float64
	LastUpdated   time.Time
}

// Percent returns progress toward threshold in [0, 100].
func (p Progress) Percent(threshold float64) float64 {
	if threshold <= 0 {
		if p.CurrentValue >= threshold {
			return 100
		}
		return 0
	}
	pct := p.CurrentValue / threshold * 100
	switch {
	case pct > 100:
		return 100
	case pct < 0:
		return 0
	default:
		return pct
	}
}

// Revocation is a tombstone that keeps a revoked automatic achievement from
// being re-granted under RegrantSuppressed.
type Revocation struct {
	StudentID     string
	AchievementID int64
	RevokedBy     string
	Reason        string
	RevokedAt     time.Time
}
