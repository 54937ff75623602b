package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// CronSchedule runs a job on a standard 5-field cron expression, evaluated
// in the given location.
//
// Examples:
//   - "5 0 * * *"  - every day at 00:05
//   - "0 8 * * 1"  - every Monday at 08:00
type CronSchedule struct {
	expr     string
	schedule cron.Schedule
	location *time.Location
}

// NewCronSchedule parses a cron expression. Descriptors such as "@daily"
// are accepted as well.
func NewCronSchedule(expr string, loc *time.Location) (*CronSchedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &CronSchedule{expr: expr, schedule: sched, location: loc}, nil
}

// MustCronSchedule is NewCronSchedule that panics on error.
func MustCronSchedule(expr string, loc *time.Location) *CronSchedule {
	s, err := NewCronSchedule(expr, loc)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the next activation strictly after t.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// String returns the cron expression.
func (s *CronSchedule) String() string {
	return s.expr
}

// ParseSchedule accepts either "@every <duration>" or a cron expression.
func ParseSchedule(spec string, loc *time.Location) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", spec)
		}
		return NewIntervalSchedule(d), nil
	}
	return NewCronSchedule(spec, loc)
}
