package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classvest/achievement-engine/internal/domain/investment"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

func ptr(id int64) *int64 { return &id }

func TestComparator_Apply(t *testing.T) {
	tests := []struct {
		op   string
		want bool
	}{
		{">=", true},
		{">", false},
		{"=", true},
		{"<=", true},
		{"<", false},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			cmp, ok := ParseComparator(tt.op)
			require.True(t, ok)
			assert.Equal(t, tt.want, cmp.Apply(5, 5))
			assert.Equal(t, tt.op, cmp.String())
		})
	}

	_, ok := ParseComparator("!=")
	assert.False(t, ok)
	assert.False(t, Comparator(0).Apply(1, 1))
}

func TestParseTrigger(t *testing.T) {
	t.Run("total count", func(t *testing.T) {
		tr, err := ParseTrigger(TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 10})
		require.NoError(t, err)
		assert.Equal(t, CountMetric{Scope: TotalScope()}, tr.Metric)
		assert.Equal(t, CompareGTE, tr.Comparator)
		assert.Equal(t, "investment_count >= 10", tr.String())
	})

	t.Run("category count spellings agree", func(t *testing.T) {
		a, err := ParseTrigger(TriggerConfig{Metric: "category_count", Operator: ">=", Value: 2, CategoryID: ptr(7)})
		require.NoError(t, err)
		b, err := ParseTrigger(TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 2, CategoryID: ptr(7)})
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, "category_7_count", a.Metric.Key())
	})

	t.Run("current_amount is the balance metric", func(t *testing.T) {
		tr, err := ParseTrigger(TriggerConfig{Metric: "current_amount", Operator: ">", Value: 100})
		require.NoError(t, err)
		assert.Equal(t, CurrentBalanceMetric{}, tr.Metric)
	})

	t.Run("config round trip", func(t *testing.T) {
		cfg := TriggerConfig{Metric: "investment_count", Operator: "<", Value: 3, CategoryID: ptr(4)}
		tr, err := ParseTrigger(cfg)
		require.NoError(t, err)
		assert.Equal(t, cfg, tr.Config())
	})

	rejected := []struct {
		name string
		cfg  TriggerConfig
	}{
		{"unknown metric", TriggerConfig{Metric: "karma", Operator: ">=", Value: 1}},
		{"unknown operator", TriggerConfig{Metric: "streak_days", Operator: "!=", Value: 1}},
		{"missing metric", TriggerConfig{Operator: ">=", Value: 1}},
		{"category_count without category", TriggerConfig{Metric: "category_count", Operator: ">=", Value: 1}},
		{"category on streak", TriggerConfig{Metric: "streak_days", Operator: ">=", Value: 1, CategoryID: ptr(2)}},
		{"non-positive category", TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 1, CategoryID: ptr(0)}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTrigger(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrInvalidTrigger)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestEvaluate_CategoryScoping(t *testing.T) {
	m := investment.Metrics{
		investment.KeyInvestmentCount: 3,
		"category_7_count":            2,
	}

	inCategory, err := ParseTrigger(TriggerConfig{Metric: "category_count", Operator: ">=", Value: 2, CategoryID: ptr(7)})
	require.NoError(t, err)
	ev := Evaluate(inCategory, m)
	assert.True(t, ev.Holds)
	assert.Equal(t, 2.0, ev.CurrentValue)

	tooMany, err := ParseTrigger(TriggerConfig{Metric: "category_count", Operator: ">=", Value: 3, CategoryID: ptr(7)})
	require.NoError(t, err)
	assert.False(t, Evaluate(tooMany, m).Holds)

	total, err := ParseTrigger(TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 3})
	require.NoError(t, err)
	assert.True(t, Evaluate(total, m).Holds)
}

func TestEvaluateConfig_Lenient(t *testing.T) {
	m := investment.Metrics{investment.KeyStreakDays: 4}

	t.Run("unknown operator never holds", func(t *testing.T) {
		ev := EvaluateConfig(TriggerConfig{Metric: "streak_days", Operator: "~", Value: 0}, m)
		assert.False(t, ev.Holds)
		assert.Equal(t, 4.0, ev.CurrentValue)
	})

	t.Run("unknown metric reads zero", func(t *testing.T) {
		ev := EvaluateConfig(TriggerConfig{Metric: "karma", Operator: ">=", Value: 1}, m)
		assert.False(t, ev.Holds)
		assert.Equal(t, 0.0, ev.CurrentValue)
	})

	t.Run("category count without category never holds", func(t *testing.T) {
		ev := EvaluateConfig(TriggerConfig{Metric: "category_count", Operator: "<", Value: 1}, m)
		assert.False(t, ev.Holds)
		assert.Equal(t, 0.0, ev.CurrentValue)
	})
}

func TestEvaluateAchievement(t *testing.T) {
	m := investment.Metrics{investment.KeyOriginalInvested: 120}

	auto := &Achievement{TriggerType: TriggerAutomatic, TriggerConfig: &TriggerConfig{Metric: "original_invested", Operator: ">=", Value: 100}}
	ev, ok := EvaluateAchievement(auto, m)
	require.True(t, ok)
	assert.True(t, ev.Holds)
	assert.Equal(t, 120.0, ev.CurrentValue)

	manual := &Achievement{TriggerType: TriggerManual}
	_, ok = EvaluateAchievement(manual, m)
	assert.False(t, ok)
}

func TestAchievement_Validate(t *testing.T) {
	valid := Achievement{
		Name:          "First Steps",
		Rarity:        RarityCommon,
		TriggerType:   TriggerAutomatic,
		TriggerConfig: &TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 1},
		IsActive:      true,
	}
	require.NoError(t, valid.Validate())

	noTrigger := valid
	noTrigger.TriggerConfig = nil
	assert.ErrorIs(t, noTrigger.Validate(), shared.ErrInvalidAchievement)

	manualWithTrigger := valid
	manualWithTrigger.TriggerType = TriggerManual
	assert.Error(t, manualWithTrigger.Validate())

	manual := valid
	manual.TriggerType = TriggerManual
	manual.TriggerConfig = nil
	assert.NoError(t, manual.Validate())

	badRarity := valid
	badRarity.Rarity = "mythic"
	assert.Error(t, badRarity.Validate())

	badTrigger := valid
	badTrigger.TriggerConfig = &TriggerConfig{Metric: "karma", Operator: ">=", Value: 1}
	assert.ErrorIs(t, badTrigger.Validate(), shared.ErrInvalidTrigger)
}

func TestProgress_Percent(t *testing.T) {
	assert.Equal(t, 50.0, Progress{CurrentValue: 5}.Percent(10))
	assert.Equal(t, 100.0, Progress{CurrentValue: 25}.Percent(10))
	assert.Equal(t, 0.0, Progress{CurrentValue: -1}.Percent(10))
	assert.Equal(t, 100.0, Progress{CurrentValue: 0}.Percent(0))
}

func TestParseRegrantPolicy(t *testing.T) {
	assert.Equal(t, RegrantSuppressed, ParseRegrantPolicy(" Suppress "))
	assert.Equal(t, RegrantAllowed, ParseRegrantPolicy(""))
	assert.Equal(t, RegrantAllowed, ParseRegrantPolicy("whatever"))
}
