package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/investment"
	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/internal/infrastructure/persistence/memory"
)

var testNow = time.Date(2024, 5, 15, 14, 0, 0, 0, time.UTC)

const studentS = "2b1f3c4e-8a90-4c1d-9e2f-5a6b7c8d9e0f"

func catID(id int64) *int64 { return &id }

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func sumBalance(ctx context.Context, studentID string, h []investment.Investment) (float64, error) {
	var sum float64
	for _, inv := range h {
		sum += inv.Amount
	}
	return sum, nil
}

type fixture struct {
	store *memory.Store
	bus   *recordingPublisher
	flow  *UnlockFlow
}

func newFixture(t *testing.T, policy achievement.RegrantPolicy) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.SetClock(func() time.Time { return testNow })
	bus := &recordingPublisher{}
	calc := investment.NewMetricsCalculator(store, investment.BalanceFunc(sumBalance),
		investment.WithClock(func() time.Time { return testNow }))
	flow := NewUnlockFlow(store, store, store, store, calc, bus, nil, UnlockFlowConfig{RegrantPolicy: policy}).
		WithClock(func() time.Time { return testNow })
	return &fixture{store: store, bus: bus, flow: flow}
}

func (f *fixture) define(t *testing.T, name string, cfg *achievement.TriggerConfig) *achievement.Achievement {
	t.Helper()
	a := &achievement.Achievement{
		Name:          name,
		Rarity:        achievement.RarityCommon,
		TriggerType:   achievement.TriggerAutomatic,
		TriggerConfig: cfg,
		Points:        10,
		IsActive:      true,
	}
	if cfg == nil {
		a.TriggerType = achievement.TriggerManual
	}
	require.NoError(t, f.store.Save(context.Background(), a))
	return a
}

func (f *fixture) invest(daysAgo int, amount float64, category *int64) {
	f.store.AddInvestment(investment.Investment{
		StudentID:  studentS,
		Date:       testNow.AddDate(0, 0, -daysAgo),
		Amount:     amount,
		CategoryID: category,
	})
}

func names(list []*achievement.Achievement) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Name)
	}
	return out
}

func TestUnlockFlow_Idempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, achievement.RegrantAllowed)
	a := f.define(t, "First Investment", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 1})
	f.invest(0, 10, nil)

	first, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"First Investment"}, names(first))

	second, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)
	assert.Empty(t, second)

	n, err := f.store.CountByAchievement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.bus.events, 1)
}

func TestUnlockFlow_RecordsMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, achievement.RegrantAllowed)
	a := f.define(t, "Saver", &achievement.TriggerConfig{Metric: "total_invested", Operator: ">=", Value: 20})
	f.invest(1, 25, nil)

	_, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceInvestmentEvent)
	require.NoError(t, err)

	u, err := f.store.GetUnlock(ctx, studentS, a.ID)
	require.NoError(t, err)
	assert.Equal(t, achievement.SourceInvestmentEvent, u.Metadata.Source)
	assert.Equal(t, "total_invested", u.Metadata.Metric)
	require.NotNil(t, u.Metadata.TriggerValue)
	assert.Equal(t, 25.0, *u.Metadata.TriggerValue)
	assert.Equal(t, testNow, u.UnlockedAt)
	assert.False(t, u.Seen)

	ev, ok := f.bus.events[0].(shared.AchievementUnlockedEvent)
	require.True(t, ok)
	assert.Equal(t, a.ID, ev.AchievementID)
	assert.Equal(t, "investment_event", ev.Source)
}

func TestUnlockFlow_ProgressPersistsIndependentOfUnlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, achievement.RegrantAllowed)
	reached := f.define(t, "Two", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 2})
	notYet := f.define(t, "Ten", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 10})
	f.invest(1, 5, nil)
	f.invest(0, 5, nil)

	_, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)

	progress, err := f.store.ListProgress(ctx, studentS)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, reached.ID, progress[0].AchievementID)
	assert.Equal(t, 2.0, progress[0].CurrentValue)
	assert.Equal(t, notYet.ID, progress[1].AchievementID)
	assert.Equal(t, 2.0, progress[1].CurrentValue)
	assert.Equal(t, 20.0, progress[1].Percent(10))

	f.invest(0, 5, nil)
	_, err = f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)

	progress, err = f.store.ListProgress(ctx, studentS)
	require.NoError(t, err)
	assert.Equal(t, 3.0, progress[0].CurrentValue, "progress is overwritten after unlock")
	assert.Equal(t, 3.0, progress[1].CurrentValue)
}

func TestUnlockFlow_NeverUnlocksManualOrInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, achievement.RegrantAllowed)
	manual := f.define(t, "Helper", nil)
	inactive := f.define(t, "Old", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 0})
	inactive.IsActive = false
	require.NoError(t, f.store.Save(ctx, inactive))
	f.invest(0, 10, nil)

	got, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, id := range []int64{manual.ID, inactive.ID} {
		_, err := f.store.GetUnlock(ctx, studentS, id)
		assert.True(t, shared.IsNotFound(err))
	}
}

func TestUnlockFlow_CategoryScoping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, achievement.RegrantAllowed)
	f.define(t, "Two in seven", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 2, CategoryID: catID(7)})
	f.define(t, "Three total", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 3})
	f.define(t, "Three in seven", &achievement.TriggerConfig{Metric: "category_count", Operator: ">=", Value: 3, CategoryID: catID(7)})
	f.invest(2, 1, catID(7))
	f.invest(1, 1, catID(7))
	f.invest(0, 1, catID(9))

	got, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Two in seven", "Three total"}, names(got))
}

func TestUnlockFlow_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, achievement.RegrantAllowed)
	const catA, catB = int64(1), int64(2)
	f.define(t, "3 investments", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 3})
	f.define(t, "2 in category A", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 2, CategoryID: catID(catA)})
	f.define(t, "3-day streak", &achievement.TriggerConfig{Metric: "streak_days", Operator: ">=", Value: 3})
	f.invest(2, 10, catID(catA))
	f.invest(1, 15, catID(catA))
	f.invest(0, 5, catID(catB))

	got, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceInvestmentEvent)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"3 investments", "2 in category A", "3-day streak"}, names(got))

	again, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)
	assert.Empty(t, again)

	unlocks, err := f.store.ListUnlocks(ctx, studentS)
	require.NoError(t, err)
	assert.Len(t, unlocks, 3)
}

func TestUnlockFlow_RegrantPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 1}

	t.Run("regrant re-unlocks after revoke", func(t *testing.T) {
		f := newFixture(t, achievement.RegrantAllowed)
		a := f.define(t, "First", cfg)
		f.invest(0, 1, nil)
		_, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
		require.NoError(t, err)

		_, err = f.store.DeleteUnlock(ctx, studentS, a.ID)
		require.NoError(t, err)

		got, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("suppress honours the tombstone until cleared", func(t *testing.T) {
		f := newFixture(t, achievement.RegrantSuppressed)
		a := f.define(t, "First", cfg)
		f.invest(0, 1, nil)
		require.NoError(t, f.store.SaveRevocation(ctx, achievement.Revocation{StudentID: studentS, AchievementID: a.ID, RevokedBy: "admin"}))

		got, err := f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
		require.NoError(t, err)
		assert.Empty(t, got)

		progress, err := f.store.ListProgress(ctx, studentS)
		require.NoError(t, err)
		assert.Len(t, progress, 1, "progress is still recorded while suppressed")

		_, err = f.store.DeleteRevocation(ctx, studentS, a.ID)
		require.NoError(t, err)
		got, err = f.flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

type failingMetrics struct{ panic bool }

func (m failingMetrics) Compute(ctx context.Context, studentID string) (investment.Metrics, error) {
	if m.panic {
		panic("corrupt ledger row")
	}
	return nil, errors.New("ledger unavailable")
}

func TestUnlockFlow_ErrorsAndSafeBoundary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, &achievement.Achievement{
		Name: "Any", Rarity: achievement.RarityCommon, TriggerType: achievement.TriggerAutomatic, IsActive: true,
		TriggerConfig: &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 0},
	}))

	flow := NewUnlockFlow(store, store, store, nil, failingMetrics{}, nil, nil, DefaultUnlockFlowConfig())
	_, err := flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	var flowErr *UnlockFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepComputeMetrics, flowErr.Step)
	assert.Empty(t, flow.ProcessStudentSafe(ctx, studentS, achievement.SourceScheduledBatch))

	panicking := NewUnlockFlow(store, store, store, nil, failingMetrics{panic: true}, nil, nil, DefaultUnlockFlowConfig())
	assert.NotPanics(t, func() {
		assert.Empty(t, panicking.ProcessStudentSafe(ctx, studentS, achievement.SourceScheduledBatch))
	})

	_, err = flow.ProcessStudent(ctx, "  ", achievement.SourceScheduledBatch)
	assert.ErrorIs(t, err, shared.ErrInvalidStudentID)
}

type brokenProgress struct {
	*memory.Store
	fail bool
}

func (p *brokenProgress) UpsertProgress(ctx context.Context, pr achievement.Progress) error {
	if p.fail {
		return errors.New("progress table locked")
	}
	return p.Store.UpsertProgress(ctx, pr)
}

func TestUnlockFlow_ProgressFailureKeepsUnlockEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, achievement.RegrantAllowed)
	a := f.define(t, "First Investment", &achievement.TriggerConfig{Metric: "investment_count", Operator: ">=", Value: 1})
	f.invest(0, 100, nil)

	progress := &brokenProgress{Store: f.store, fail: true}
	calc := investment.NewMetricsCalculator(f.store, investment.BalanceFunc(sumBalance),
		investment.WithClock(func() time.Time { return testNow }))
	flow := NewUnlockFlow(f.store, f.store, progress, f.store, calc, f.bus, nil, DefaultUnlockFlowConfig()).
		WithClock(func() time.Time { return testNow })

	unlocked, err := flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	var flowErr *UnlockFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepUpsertProgress, flowErr.Step)
	assert.Equal(t, []string{"First Investment"}, names(unlocked))
	require.Len(t, f.bus.events, 1)
	assert.Equal(t, shared.EventAchievementUnlocked, f.bus.events[0].EventType())

	// The row is stored, so a healthy rerun unlocks nothing new and must not
	// publish again.
	progress.fail = false
	unlocked, err = flow.ProcessStudent(ctx, studentS, achievement.SourceScheduledBatch)
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	assert.Len(t, f.bus.events, 1)

	got, err := f.store.ListUnlocks(ctx, studentS)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].AchievementID)
}
