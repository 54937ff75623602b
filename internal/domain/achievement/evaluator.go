package achievement

import (
	"github.com/classvest/achievement-engine/internal/domain/investment"
)

// Evaluation is the outcome of checking one condition against a metrics map.
type Evaluation struct {
	Holds        bool
	CurrentValue float64
	// Key is the metrics entry that was read.
	Key string
}

// Evaluate applies a typed trigger to a metrics snapshot. A missing metric
// reads as 0.
func Evaluate(t Trigger, m investment.Metrics) Evaluation {
	key := t.Metric.Key()
	value := m.Get(key)
	return Evaluation{
		Holds:        t.Comparator.Apply(value, t.Threshold),
		CurrentValue: value,
		Key:          key,
	}
}

// EvaluateConfig applies a stored config without requiring it to parse.
// Unknown metrics read as 0 and unknown operators never hold, so a malformed
// definition can keep an achievement locked but can never unlock it.
func EvaluateConfig(cfg TriggerConfig, m investment.Metrics) Evaluation {
	key := cfg.Metric
	isCategoryCount := cfg.Metric == investment.KeyCategoryCount ||
		(cfg.Metric == investment.KeyInvestmentCount && cfg.CategoryID != nil)
	if isCategoryCount {
		if cfg.CategoryID == nil {
			// Fails closed, even for "<" and "<=" against 0.
			return Evaluation{Key: investment.KeyCategoryCount}
		}
		key = investment.CategoryCountKey(*cfg.CategoryID)
	}

	value := m.Get(key)
	cmp, _ := ParseComparator(cfg.Operator)
	return Evaluation{
		Holds:        cmp.Apply(value, cfg.Value),
		CurrentValue: value,
		Key:          key,
	}
}

// EvaluateAchievement evaluates an automatic achievement, preferring the
// typed trigger and falling back to EvaluateConfig for configs that do not
// parse. ok is false for achievements without a trigger config.
func EvaluateAchievement(a *Achievement, m investment.Metrics) (ev Evaluation, ok bool) {
	if a == nil || !a.IsAutomatic() || a.TriggerConfig == nil {
		return Evaluation{}, false
	}
	if t, err := ParseTrigger(*a.TriggerConfig); err == nil {
		return Evaluate(t, m), true
	}
	return EvaluateConfig(*a.TriggerConfig, m), true
}
