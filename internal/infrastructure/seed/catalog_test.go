package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classvest/achievement-engine/internal/application/command"
	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/infrastructure/persistence/memory"
)

const sample = `
achievements:
  - name: First Step
    rarity: common
    trigger_type: automatic
    trigger_config: {metric: investment_count, operator: ">=", value: 1}
    points: 10
  - name: Class Helper
    rarity: legendary
    trigger_type: manual
    points: 100
    active: false
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sample))
	require.NoError(t, err)
	require.Len(t, c.Achievements, 2)

	first := c.Achievements[0].Command()
	assert.True(t, first.UpsertByName)
	assert.True(t, first.IsActive)
	assert.Equal(t, achievement.TriggerAutomatic, first.TriggerType)
	require.NotNil(t, first.TriggerConfig)
	assert.Equal(t, ">=", first.TriggerConfig.Operator)

	helper := c.Achievements[1].Command()
	assert.False(t, helper.IsActive)
	assert.Nil(t, helper.TriggerConfig)
}

func TestParseCatalog_Rejects(t *testing.T) {
	_, err := ParseCatalog([]byte("achievements: []"))
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	_, err = ParseCatalog([]byte("achievements:\n  - name: A\n  - name: A\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseCatalog([]byte("achievements:\n  - rarity: common\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = ParseCatalog([]byte("achievements: {"))
	assert.Error(t, err)
}

func TestApply_UpsertsByName(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	definer := command.NewDefineAchievementHandler(store, nil, nil)

	c, err := ParseCatalog([]byte(sample))
	require.NoError(t, err)

	res, err := c.Apply(ctx, definer)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2}, res)

	c.Achievements[0].Points = 15
	res, err = c.Apply(ctx, definer)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 2}, res)

	got, err := store.GetByName(ctx, "First Step")
	require.NoError(t, err)
	assert.Equal(t, 15, got.Points)
}

func TestApply_InvalidTriggerStops(t *testing.T) {
	c, err := ParseCatalog([]byte(`
achievements:
  - name: Broken
    rarity: common
    trigger_type: automatic
    trigger_config: {metric: investment_count, operator: "!=", value: 1}
`))
	require.NoError(t, err)

	_, err = c.Apply(context.Background(), command.NewDefineAchievementHandler(memory.NewStore(), nil, nil))
	assert.ErrorContains(t, err, "Broken")
}

func TestLoadCatalog_ShippedFile(t *testing.T) {
	path := filepath.Join("..", "..", "..", "configs", "achievements.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("catalog file not present")
	}
	c, err := LoadCatalog(path)
	require.NoError(t, err)

	_, err = c.Apply(context.Background(), command.NewDefineAchievementHandler(memory.NewStore(), nil, nil))
	assert.NoError(t, err)
}
