package eventhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

type recordingProcessor struct {
	mu      sync.Mutex
	calls   []string
	sources []achievement.Source
}

func (p *recordingProcessor) ProcessStudentSafe(ctx context.Context, studentID string, source achievement.Source) []*achievement.Achievement {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, studentID)
	p.sources = append(p.sources, source)
	_, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		panic("expected a deadline")
	}
	return []*achievement.Achievement{{ID: 1}}
}

func TestOnInvestmentRecorded_EvaluatesStudent(t *testing.T) {
	p := &recordingProcessor{}
	h := NewOnInvestmentRecordedHandler(p, nil, InvestmentRecordedConfig{Timeout: time.Second})

	err := h.Handle(shared.NewInvestmentRecordedEvent("s-1", "inv-9", 25, nil))
	assert.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, p.calls)
	assert.Equal(t, []achievement.Source{achievement.SourceInvestmentEvent}, p.sources)
}

func TestOnInvestmentRecorded_IgnoresOtherEvents(t *testing.T) {
	p := &recordingProcessor{}
	h := NewOnInvestmentRecordedHandler(p, nil, DefaultInvestmentRecordedConfig())

	err := h.Handle(shared.NewAchievementRevokedEvent("s-1", 3, "admin", false))
	assert.NoError(t, err)

	err = h.Handle(shared.NewInvestmentRecordedEvent("", "inv-1", 1, nil))
	assert.NoError(t, err)
	assert.Empty(t, p.calls)
}

func TestOnInvestmentRecorded_RespectsGate(t *testing.T) {
	p := &recordingProcessor{}
	h := NewOnInvestmentRecordedHandler(p, nil, InvestmentRecordedConfig{
		Timeout:        time.Second,
		ShouldEvaluate: func(studentID string) bool { return studentID == "s-2" },
	})

	assert.NoError(t, h.Handle(shared.NewInvestmentRecordedEvent("s-1", "inv-1", 10, nil)))
	assert.NoError(t, h.Handle(shared.NewInvestmentRecordedEvent("s-2", "inv-2", 10, nil)))
	assert.Equal(t, []string{"s-2"}, p.calls)
}
