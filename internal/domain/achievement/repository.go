package achievement

import (
	"context"
	"time"
)

// Repository stores achievement definitions.
type Repository interface {
	// ListActiveAutomatic returns active achievements with TriggerAutomatic.
	ListActiveAutomatic(ctx context.Context) ([]*Achievement, error)

	// ListActive returns every active achievement.
	ListActive(ctx context.Context) ([]*Achievement, error)

	// GetByID returns shared.ErrAchievementNotFound when missing.
	GetByID(ctx context.Context, id int64) (*Achievement, error)

	// GetByName returns shared.ErrAchievementNotFound when missing.
	GetByName(ctx context.Context, name string) (*Achievement, error)

	// Save inserts when a.ID is 0 (and assigns it), updates otherwise.
	Save(ctx context.Context, a *Achievement) error

	// Delete removes a definition. It returns shared.ErrAchievementInUse when
	// any unlock references it and never cascades.
	Delete(ctx context.Context, id int64) error
}

// UnlockStore persists unlock records.
type UnlockStore interface {
	// TryInsertUnlock inserts the unlock unless one already exists for the
	// pair. inserted is false when a row was already present.
	TryInsertUnlock(ctx context.Context, u Unlock) (inserted bool, err error)

	// GetUnlock returns shared.ErrUnlockNotFound when missing.
	GetUnlock(ctx context.Context, studentID string, achievementID int64) (*Unlock, error)

	ListUnlocks(ctx context.Context, studentID string) ([]Unlock, error)

	// DeleteUnlock removes the unlock; deleted is false if none existed.
	DeleteUnlock(ctx context.Context, studentID string, achievementID int64) (deleted bool, err error)

	// MarkAcknowledged sets seen and celebration flags; false values leave
	// the stored flag unchanged.
	MarkAcknowledged(ctx context.Context, studentID string, achievementID int64, seen, celebrationShown bool) error

	CountByAchievement(ctx context.Context, achievementID int64) (int, error)

	// CountUnlockedSince groups unlocks created at or after since by achievement.
	CountUnlockedSince(ctx context.Context, since time.Time) (map[int64]int, error)
}

// ProgressStore persists progress snapshots.
type ProgressStore interface {
	// UpsertProgress overwrites the snapshot for the pair.
	UpsertProgress(ctx context.Context, p Progress) error
	ListProgress(ctx context.Context, studentID string) ([]Progress, error)
}

// RevocationStore persists revocation tombstones.
type RevocationStore interface {
	SaveRevocation(ctx context.Context, r Revocation) error
	// RevokedAchievements returns the achievement IDs with a tombstone for the student.
	RevokedAchievements(ctx context.Context, studentID string) (map[int64]bool, error)
	// DeleteRevocation removes the tombstone; deleted is false if none existed.
	DeleteRevocation(ctx context.Context, studentID string, achievementID int64) (deleted bool, err error)
}
