package achievement

import (
	"fmt"
	"strconv"

	"github.com/classvest/achievement-engine/internal/domain/investment"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPARATOR
// ══════════════════════════════════════════════════════════════════════════════

// Comparator is the closed set of threshold comparisons.
type Comparator int

const (
	CompareGTE Comparator = iota + 1
	CompareGT
	CompareEQ
	CompareLTE
	CompareLT
)

var comparatorSymbols = map[Comparator]string{
	CompareGTE: ">=",
	CompareGT:  ">",
	CompareEQ:  "=",
	CompareLTE: "<=",
	CompareLT:  "<",
}

// ParseComparator maps an operator symbol to a Comparator.
func ParseComparator(op string) (Comparator, bool) {
	for c, sym := range comparatorSymbols {
		if sym == op {
			return c, true
		}
	}
	return 0, false
}

// String returns the operator symbol.
func (c Comparator) String() string {
	if sym, ok := comparatorSymbols[c]; ok {
		return sym
	}
	return "?"
}

// Apply compares value against threshold. The zero Comparator never holds.
func (c Comparator) Apply(value, threshold float64) bool {
	switch c {
	case CompareGTE:
		return value >= threshold
	case CompareGT:
		return value > threshold
	case CompareEQ:
		return value == threshold
	case CompareLTE:
		return value <= threshold
	case CompareLT:
		return value < threshold
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METRIC (sealed)
// ══════════════════════════════════════════════════════════════════════════════

// Metric selects the number a trigger compares. Implementations are limited
// to this package.
type Metric interface {
	// Key is the metrics map entry the metric reads.
	Key() string
	// Name is the stored trigger spelling.
	Name() string
	isMetric()
}

// CountScope is either the total investment count or one category's count.
type CountScope struct {
	categoryID int64
}

// TotalScope counts every investment.
func TotalScope() CountScope { return CountScope{} }

// CategoryScope counts investments in a single category.
func CategoryScope(categoryID int64) CountScope { return CountScope{categoryID: categoryID} }

// IsTotal reports whether the scope covers all investments.
func (s CountScope) IsTotal() bool { return s.categoryID == 0 }

// CategoryID returns the scoped category, or 0 for the total scope.
func (s CountScope) CategoryID() int64 { return s.categoryID }

// CountMetric is the number of investments in a scope.
type CountMetric struct{ Scope CountScope }

func (m CountMetric) Key() string {
	if m.Scope.IsTotal() {
		return investment.KeyInvestmentCount
	}
	return investment.CategoryCountKey(m.Scope.categoryID)
}
func (CountMetric) Name() string { return investment.KeyInvestmentCount }
func (CountMetric) isMetric()    {}

// CurrentBalanceMetric is the balance including accrued interest.
type CurrentBalanceMetric struct{}

func (CurrentBalanceMetric) Key() string  { return investment.KeyTotalInvested }
func (CurrentBalanceMetric) Name() string { return investment.KeyTotalInvested }
func (CurrentBalanceMetric) isMetric()    {}

// OriginalInvestedMetric is the raw sum of recorded amounts.
type OriginalInvestedMetric struct{}

func (OriginalInvestedMetric) Key() string  { return investment.KeyOriginalInvested }
func (OriginalInvestedMetric) Name() string { return investment.KeyOriginalInvested }
func (OriginalInvestedMetric) isMetric()    {}

// StreakDaysMetric is the current consecutive-day investment streak.
type StreakDaysMetric struct{}

func (StreakDaysMetric) Key() string  { return investment.KeyStreakDays }
func (StreakDaysMetric) Name() string { return investment.KeyStreakDays }
func (StreakDaysMetric) isMetric()    {}

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER
// ══════════════════════════════════════════════════════════════════════════════

// Trigger is the typed condition of an automatic achievement.
type Trigger struct {
	Metric     Metric
	Comparator Comparator
	Threshold  float64
}

// Config converts the trigger back to its stored form. Category counts are
// stored as investment_count with a category_id.
func (t Trigger) Config() TriggerConfig {
	cfg := TriggerConfig{
		Metric:   t.Metric.Name(),
		Operator: t.Comparator.String(),
		Value:    t.Threshold,
	}
	if cm, ok := t.Metric.(CountMetric); ok && !cm.Scope.IsTotal() {
		id := cm.Scope.categoryID
		cfg.CategoryID = &id
	}
	return cfg
}

// String renders the trigger, e.g. "category_7_count >= 2".
func (t Trigger) String() string {
	return t.Metric.Key() + " " + t.Comparator.String() + " " + strconv.FormatFloat(t.Threshold, 'f', -1, 64)
}

func invalidTrigger(format string, args ...any) error {
	return shared.WrapError("achievement", "ParseTrigger", shared.ErrInvalidTrigger, "invalid trigger config", fmt.Errorf(format, args...))
}

// ParseTrigger validates a stored config and converts it to a Trigger.
// "category_count" and "investment_count" with a category_id both become a
// category-scoped CountMetric.
func ParseTrigger(cfg TriggerConfig) (Trigger, error) {
	if err := validate.Struct(cfg); err != nil {
		return Trigger{}, shared.WrapError("achievement", "ParseTrigger", shared.ErrInvalidTrigger, "invalid trigger config", err)
	}

	if cfg.CategoryID != nil && *cfg.CategoryID <= 0 {
		return Trigger{}, invalidTrigger("category_id must be positive, got %d", *cfg.CategoryID)
	}

	cmp, ok := ParseComparator(cfg.Operator)
	if !ok {
		return Trigger{}, invalidTrigger("unknown operator %q", cfg.Operator)
	}

	var metric Metric
	switch cfg.Metric {
	case investment.KeyInvestmentCount:
		if cfg.CategoryID != nil {
			metric = CountMetric{Scope: CategoryScope(*cfg.CategoryID)}
		} else {
			metric = CountMetric{Scope: TotalScope()}
		}
	case investment.KeyCategoryCount:
		if cfg.CategoryID == nil {
			return Trigger{}, invalidTrigger("category_count requires category_id")
		}
		metric = CountMetric{Scope: CategoryScope(*cfg.CategoryID)}
	case investment.KeyTotalInvested, investment.KeyCurrentAmount:
		metric = CurrentBalanceMetric{}
	case investment.KeyOriginalInvested:
		metric = OriginalInvestedMetric{}
	case investment.KeyStreakDays:
		metric = StreakDaysMetric{}
	default:
		return Trigger{}, invalidTrigger("unknown metric %q", cfg.Metric)
	}

	if _, isCount := metric.(CountMetric); !isCount && cfg.CategoryID != nil {
		return Trigger{}, invalidTrigger("category_id is only valid for count metrics, got %q", cfg.Metric)
	}

	return Trigger{Metric: metric, Comparator: cmp, Threshold: cfg.Value}, nil
}
