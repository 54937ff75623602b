package investment

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Metric keys present in every Metrics map.
const (
	KeyInvestmentCount  = "investment_count"
	KeyTotalInvested    = "total_invested"
	KeyCurrentAmount    = "current_amount"
	KeyOriginalInvested = "original_invested"
	KeyStreakDays       = "streak_days"
	// KeyCategoryCount is the raw trigger spelling for a category-scoped count.
	KeyCategoryCount = "category_count"
)

// CategoryCountKey returns the metrics key for a category's investment count.
func CategoryCountKey(categoryID int64) string {
	return "category_" + strconv.FormatInt(categoryID, 10) + "_count"
}

// Metrics is a flat snapshot of named numbers for one student.
type Metrics map[string]float64

// Get returns the value for key, or 0 when the key is absent.
func (m Metrics) Get(key string) float64 {
	return m[key]
}

// CategoryCount returns the number of investments in a category.
func (m Metrics) CategoryCount(categoryID int64) float64 {
	return m[CategoryCountKey(categoryID)]
}

// BuildMetrics derives the metrics map from a history and a current balance.
// The balance is ignored for an empty history.
func BuildMetrics(history []Investment, balance float64, now time.Time, loc *time.Location) Metrics {
	m := Metrics{
		KeyInvestmentCount:  float64(len(history)),
		KeyTotalInvested:    0,
		KeyCurrentAmount:    0,
		KeyOriginalInvested: 0,
		KeyStreakDays:       0,
	}
	if len(history) == 0 {
		return m
	}

	m[KeyTotalInvested] = balance
	m[KeyCurrentAmount] = balance

	var sum float64
	for _, inv := range history {
		sum += inv.Amount
		if inv.CategoryID != nil {
			m[CategoryCountKey(*inv.CategoryID)]++
		}
	}
	m[KeyOriginalInvested] = sum
	m[KeyStreakDays] = float64(ComputeStreak(history, now, loc))

	return m
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// MetricsCalculator loads a student's ledger and builds their Metrics.
type MetricsCalculator struct {
	ledger   Ledger
	balance  BalanceProvider
	location *time.Location
	now      func() time.Time
}

// CalculatorOption configures a MetricsCalculator.
type CalculatorOption func(*MetricsCalculator)

// WithLocation sets the timezone used for calendar-day math.
func WithLocation(loc *time.Location) CalculatorOption {
	return func(c *MetricsCalculator) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CalculatorOption {
	return func(c *MetricsCalculator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMetricsCalculator creates a new MetricsCalculator.
func NewMetricsCalculator(ledger Ledger, balance BalanceProvider, opts ...CalculatorOption) *MetricsCalculator {
	c := &MetricsCalculator{
		ledger:   ledger,
		balance:  balance,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute returns the metrics for one student.
func (c *MetricsCalculator) Compute(ctx context.Context, studentID string) (Metrics, error) {
	history, err := c.ledger.History(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load investment history: %w", err)
	}

	var balance float64
	if len(history) > 0 {
		balance, err = c.balance.CurrentBalance(ctx, studentID, history)
		if err != nil {
			return nil, fmt.Errorf("compute current balance: %w", err)
		}
	}

	return BuildMetrics(history, balance, c.now(), c.location), nil
}
