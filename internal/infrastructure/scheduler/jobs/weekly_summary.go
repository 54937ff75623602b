package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/classvest/achievement-engine/internal/application/query"
	"github.com/classvest/achievement-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY ACHIEVEMENT SUMMARY JOB
// ══════════════════════════════════════════════════════════════════════════════

// SummarySink receives the finished weekly report.
type SummarySink interface {
	StoreWeeklySummary(ctx context.Context, summary *query.WeeklySummaryDTO) error
}

// WeeklySummaryJob counts unlocks per achievement over the past seven days
// and hands the report to an optional sink.
type WeeklySummaryJob struct {
	handler  *query.GetWeeklySummaryHandler
	sink     SummarySink
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time

	last atomic.Value // *query.WeeklySummaryDTO
}

// NewWeeklySummaryJob creates the job. sink may be nil.
func NewWeeklySummaryJob(handler *query.GetWeeklySummaryHandler, sink SummarySink, loc *time.Location, logger *slog.Logger) *WeeklySummaryJob {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WeeklySummaryJob{
		handler:  handler,
		sink:     sink,
		logger:   logger.With("job", "weekly_achievement_summary"),
		location: loc,
		now:      time.Now,
	}
}

// Name returns the job name.
func (j *WeeklySummaryJob) Name() string { return "weekly_achievement_summary" }

// Description returns a human-readable description.
func (j *WeeklySummaryJob) Description() string {
	return "Reports how often each achievement was unlocked during the last week"
}

// Last returns the most recent report, or nil.
func (j *WeeklySummaryJob) Last() *query.WeeklySummaryDTO {
	if v, ok := j.last.Load().(*query.WeeklySummaryDTO); ok {
		return v
	}
	return nil
}

// Run builds the report starting at midnight seven days ago.
func (j *WeeklySummaryJob) Run(ctx context.Context) error {
	until := j.now().In(j.location)
	since := timeutil.StartOfDay(until, j.location).AddDate(0, 0, -7)

	summary, err := j.handler.Handle(ctx, query.GetWeeklySummaryQuery{Since: since, Until: until})
	if err != nil {
		return fmt.Errorf("build weekly summary: %w", err)
	}
	j.last.Store(summary)

	top := ""
	if len(summary.Entries) > 0 {
		top = summary.Entries[0].Name
	}
	j.logger.Info("weekly summary ready",
		"since", since.Format(time.DateOnly),
		"achievements", len(summary.Entries),
		"unlocks", summary.TotalUnlocks,
		"top", top,
	)

	if j.sink != nil {
		if err := j.sink.StoreWeeklySummary(ctx, summary); err != nil {
			j.logger.Warn("failed to store weekly summary", "error", err)
		}
	}
	return nil
}
