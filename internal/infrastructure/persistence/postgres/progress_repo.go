package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements achievement.ProgressStore.
type ProgressRepository struct {
	db Querier
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(db Querier) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// UpsertProgress writes the latest value for the pair.
func (r *ProgressRepository) UpsertProgress(ctx context.Context, p achievement.Progress) error {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO achievement_progress (student_id, achievement_id, current_value, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, achievement_id)
		DO UPDATE SET current_value = EXCLUDED.current_value, last_updated = EXCLUDED.last_updated`,
		p.StudentID, p.AchievementID, p.CurrentValue, p.LastUpdated)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrAchievementNotFound
		}
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// ListProgress returns the student's progress rows ordered by achievement.
func (r *ProgressRepository) ListProgress(ctx context.Context, studentID string) ([]achievement.Progress, error) {
	rows, err := r.db.Query(ctx, `
		SELECT student_id::text, achievement_id, current_value, last_updated
		FROM achievement_progress
		WHERE student_id = $1
		ORDER BY achievement_id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []achievement.Progress
	for rows.Next() {
		var p achievement.Progress
		if err := rows.Scan(&p.StudentID, &p.AchievementID, &p.CurrentValue, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// REVOCATION STORE
// ══════════════════════════════════════════════════════════════════════════════

// RevocationRepository implements achievement.RevocationStore.
type RevocationRepository struct {
	db Querier
}

// NewRevocationRepository creates a new RevocationRepository.
func NewRevocationRepository(db Querier) *RevocationRepository {
	return &RevocationRepository{db: db}
}

// SaveRevocation records or refreshes a tombstone.
func (r *RevocationRepository) SaveRevocation(ctx context.Context, rev achievement.Revocation) error {
	if rev.RevokedAt.IsZero() {
		rev.RevokedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO achievement_revocations (student_id, achievement_id, admin_id, reason, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, achievement_id)
		DO UPDATE SET admin_id = EXCLUDED.admin_id, reason = EXCLUDED.reason, revoked_at = EXCLUDED.revoked_at`,
		rev.StudentID, rev.AchievementID, rev.RevokedBy, rev.Reason, rev.RevokedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrAchievementNotFound
		}
		return fmt.Errorf("save revocation: %w", err)
	}
	return nil
}

// RevokedAchievements returns the set of tombstoned achievement ids.
func (r *RevocationRepository) RevokedAchievements(ctx context.Context, studentID string) (map[int64]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT achievement_id FROM achievement_revocations WHERE student_id = $1`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list revocations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// DeleteRevocation removes a tombstone and reports whether one existed.
func (r *RevocationRepository) DeleteRevocation(ctx context.Context, studentID string, achievementID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM achievement_revocations WHERE student_id = $1 AND achievement_id = $2`,
		studentID, achievementID)
	if err != nil {
		return false, fmt.Errorf("delete revocation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
