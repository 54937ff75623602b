// Package investment models the read-only investment ledger consumed by the
// achievement engine and derives per-student metrics from it.
package investment

import (
	"context"
	"time"
)

// Investment is one append-only ledger entry.
type Investment struct {
	ID         string
	StudentID  string
	Date       time.Time
	Amount     float64
	CategoryID *int64
}

// HasCategory reports whether the entry is scoped to a category.
func (i Investment) HasCategory() bool {
	return i.CategoryID != nil
}

// Category is a grouping label for investments (e.g. "savings", "stocks").
type Category struct {
	ID   int64
	Name string
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Ledger supplies a student's investment history ordered by date ascending.
type Ledger interface {
	History(ctx context.Context, studentID string) ([]Investment, error)
}

// BalanceProvider computes the current amount for a student, interest
// accrual included. It is only invoked for a non-empty history.
type BalanceProvider interface {
	CurrentBalance(ctx context.Context, studentID string, history []Investment) (float64, error)
}

// BalanceFunc adapts a function to BalanceProvider.
type BalanceFunc func(ctx context.Context, studentID string, history []Investment) (float64, error)

// CurrentBalance implements BalanceProvider.
func (f BalanceFunc) CurrentBalance(ctx context.Context, studentID string, history []Investment) (float64, error) {
	return f(ctx, studentID, history)
}
