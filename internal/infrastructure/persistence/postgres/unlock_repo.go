package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK STORE
// ══════════════════════════════════════════════════════════════════════════════

// UnlockRepository implements achievement.UnlockStore on student_achievements.
type UnlockRepository struct {
	db Querier
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(db Querier) *UnlockRepository {
	return &UnlockRepository{db: db}
}

// TryInsertUnlock inserts the pair and reports whether this call created it.
// A concurrent or earlier insert makes ON CONFLICT return no row.
func (r *UnlockRepository) TryInsertUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal unlock metadata: %w", err)
	}
	if u.UnlockedAt.IsZero() {
		u.UnlockedAt = time.Now().UTC()
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO student_achievements (student_id, achievement_id, unlocked_at, seen, celebration_shown, unlock_metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, achievement_id) DO NOTHING
		RETURNING id`,
		u.StudentID, u.AchievementID, u.UnlockedAt, u.Seen, u.CelebrationShown, meta,
	).Scan(&id)

	switch {
	case err == nil:
		return true, nil
	case IsNoRows(err):
		return false, nil
	case IsForeignKeyViolation(err):
		return false, shared.ErrAchievementNotFound
	default:
		return false, fmt.Errorf("insert unlock: %w", err)
	}
}

const unlockColumns = `student_id::text, achievement_id, unlocked_at, seen, celebration_shown, unlock_metadata`

// GetUnlock returns one unlock or ErrUnlockNotFound.
func (r *UnlockRepository) GetUnlock(ctx context.Context, studentID string, achievementID int64) (*achievement.Unlock, error) {
	row := r.db.QueryRow(ctx, `SELECT `+unlockColumns+`
		FROM student_achievements WHERE student_id = $1 AND achievement_id = $2`, studentID, achievementID)
	u, err := scanUnlock(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnlockNotFound
		}
		return nil, fmt.Errorf("get unlock: %w", err)
	}
	return u, nil
}

// ListUnlocks returns a student's unlocks, newest first.
func (r *UnlockRepository) ListUnlocks(ctx context.Context, studentID string) ([]achievement.Unlock, error) {
	rows, err := r.db.Query(ctx, `SELECT `+unlockColumns+`
		FROM student_achievements WHERE student_id = $1
		ORDER BY unlocked_at DESC, achievement_id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	defer rows.Close()

	var out []achievement.Unlock
	for rows.Next() {
		u, err := scanUnlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// DeleteUnlock removes the pair and reports whether a row existed.
func (r *UnlockRepository) DeleteUnlock(ctx context.Context, studentID string, achievementID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM student_achievements WHERE student_id = $1 AND achievement_id = $2`,
		studentID, achievementID)
	if err != nil {
		return false, fmt.Errorf("delete unlock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAcknowledged sets the flags that are true; it never clears one.
func (r *UnlockRepository) MarkAcknowledged(ctx context.Context, studentID string, achievementID int64, seen, celebrationShown bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE student_achievements
		SET seen = seen OR $3, celebration_shown = celebration_shown OR $4
		WHERE student_id = $1 AND achievement_id = $2`,
		studentID, achievementID, seen, celebrationShown)
	if err != nil {
		return fmt.Errorf("acknowledge unlock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUnlockNotFound
	}
	return nil
}

// CountByAchievement returns how many students hold the achievement.
func (r *UnlockRepository) CountByAchievement(ctx context.Context, achievementID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM student_achievements WHERE achievement_id = $1`, achievementID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unlocks: %w", err)
	}
	return n, nil
}

// CountUnlockedSince groups unlocks at or after since by achievement.
func (r *UnlockRepository) CountUnlockedSince(ctx context.Context, since time.Time) (map[int64]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT achievement_id, COUNT(*)
		FROM student_achievements
		WHERE unlocked_at >= $1
		GROUP BY achievement_id`, since)
	if err != nil {
		return nil, fmt.Errorf("count unlocks since: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func scanUnlock(row pgx.Row) (*achievement.Unlock, error) {
	var u achievement.Unlock
	var meta []byte
	if err := row.Scan(&u.StudentID, &u.AchievementID, &u.UnlockedAt, &u.Seen, &u.CelebrationShown, &meta); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return nil, fmt.Errorf("unlock %s/%d: decode metadata: %w", u.StudentID, u.AchievementID, err)
		}
	}
	return &u, nil
}
