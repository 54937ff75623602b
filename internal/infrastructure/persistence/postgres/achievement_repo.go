package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository.
type AchievementRepository struct {
	db Querier
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(db Querier) *AchievementRepository {
	return &AchievementRepository{db: db}
}

const achievementColumns = `
	id, name, description, category, rarity, trigger_type, trigger_config,
	points, is_active, created_at, updated_at`

// ListActiveAutomatic returns active automatic definitions ordered by id.
func (r *AchievementRepository) ListActiveAutomatic(ctx context.Context) ([]*achievement.Achievement, error) {
	return r.list(ctx, `SELECT`+achievementColumns+`
		FROM achievements
		WHERE is_active AND trigger_type = 'automatic'
		ORDER BY id`)
}

// ListActive returns every active definition ordered by id.
func (r *AchievementRepository) ListActive(ctx context.Context) ([]*achievement.Achievement, error) {
	return r.list(ctx, `SELECT`+achievementColumns+` FROM achievements WHERE is_active ORDER BY id`)
}

// GetByID returns a definition or ErrAchievementNotFound.
func (r *AchievementRepository) GetByID(ctx context.Context, id int64) (*achievement.Achievement, error) {
	row := r.db.QueryRow(ctx, `SELECT`+achievementColumns+` FROM achievements WHERE id = $1`, id)
	return scanAchievement(row)
}

// GetByName returns a definition or ErrAchievementNotFound.
func (r *AchievementRepository) GetByName(ctx context.Context, name string) (*achievement.Achievement, error) {
	row := r.db.QueryRow(ctx, `SELECT`+achievementColumns+` FROM achievements WHERE name = $1`, name)
	return scanAchievement(row)
}

// Save inserts when a.ID is zero and updates otherwise.
func (r *AchievementRepository) Save(ctx context.Context, a *achievement.Achievement) error {
	cfg, err := marshalTriggerConfig(a.TriggerConfig)
	if err != nil {
		return err
	}

	if a.ID == 0 {
		err = r.db.QueryRow(ctx, `
			INSERT INTO achievements (name, description, category, rarity, trigger_type, trigger_config, points, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`,
			a.Name, a.Description, a.Category, string(a.Rarity), string(a.TriggerType), cfg, a.Points, a.IsActive,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	} else {
		err = r.db.QueryRow(ctx, `
			UPDATE achievements SET
				name = $2, description = $3, category = $4, rarity = $5, trigger_type = $6,
				trigger_config = $7, points = $8, is_active = $9, updated_at = NOW()
			WHERE id = $1
			RETURNING created_at, updated_at`,
			a.ID, a.Name, a.Description, a.Category, string(a.Rarity), string(a.TriggerType), cfg, a.Points, a.IsActive,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
	}

	switch {
	case err == nil:
		return nil
	case IsNoRows(err):
		return shared.ErrAchievementNotFound
	case IsUniqueViolation(err):
		return shared.WrapError("achievement", "Save", shared.ErrAlreadyExists,
			"achievement name already taken", fmt.Errorf("name %q", a.Name))
	default:
		return fmt.Errorf("save achievement: %w", err)
	}
}

// Delete removes a definition. Existing unlocks block the delete through the
// foreign key, which surfaces as ErrAchievementInUse.
func (r *AchievementRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM achievements WHERE id = $1`, id)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrAchievementInUse
		}
		return fmt.Errorf("delete achievement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAchievementNotFound
	}
	return nil
}

func (r *AchievementRepository) list(ctx context.Context, query string, args ...any) ([]*achievement.Achievement, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	var out []*achievement.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAchievement(row pgx.Row) (*achievement.Achievement, error) {
	var (
		a           achievement.Achievement
		rarity      string
		triggerType string
		rawConfig   []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Category, &rarity, &triggerType, &rawConfig,
		&a.Points, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAchievementNotFound
		}
		return nil, fmt.Errorf("scan achievement: %w", err)
	}
	a.Rarity = achievement.Rarity(rarity)
	a.TriggerType = achievement.TriggerType(triggerType)

	// A corrupt blob leaves the config nil so the definition simply never fires.
	if len(rawConfig) > 0 {
		var cfg achievement.TriggerConfig
		if json.Unmarshal(rawConfig, &cfg) == nil {
			a.TriggerConfig = &cfg
		}
	}
	return &a, nil
}

func marshalTriggerConfig(cfg *achievement.TriggerConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger config: %w", err)
	}
	return b, nil
}
