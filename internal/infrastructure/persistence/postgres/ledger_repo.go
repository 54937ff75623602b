package postgres

import (
	"context"
	"fmt"

	"github.com/classvest/achievement-engine/internal/domain/investment"
)

// ══════════════════════════════════════════════════════════════════════════════
// INVESTMENT LEDGER AND ROSTER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository reads the investment ledger and the student roster.
// It implements investment.Ledger and student.Roster.
type LedgerRepository struct {
	db Querier
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db Querier) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// History returns the student's investments ordered by date ascending.
func (r *LedgerRepository) History(ctx context.Context, studentID string) ([]investment.Investment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id::text, student_id::text, invested_at, amount, category_id
		FROM investments
		WHERE student_id = $1
		ORDER BY invested_at, id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("load investment history: %w", err)
	}
	defer rows.Close()

	var out []investment.Investment
	for rows.Next() {
		var inv investment.Investment
		if err := rows.Scan(&inv.ID, &inv.StudentID, &inv.Date, &inv.Amount, &inv.CategoryID); err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListStudentIDs returns active students in creation order.
func (r *LedgerRepository) ListStudentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id::text FROM students WHERE is_active ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks that the roster table is reachable.
func (r *LedgerRepository) Ping(ctx context.Context) error {
	var exists bool
	return r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM students)`).Scan(&exists)
}
