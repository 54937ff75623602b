package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func quietScheduler() *Scheduler {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(cfg)
}

func TestCronSchedule_Next(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	daily := MustCronSchedule("5 0 * * *", almaty)

	from := time.Date(2024, 5, 15, 10, 0, 0, 0, almaty)
	assert.True(t, time.Date(2024, 5, 16, 0, 5, 0, 0, almaty).Equal(daily.Next(from)))
	assert.Equal(t, "5 0 * * *", daily.String())

	weekly := MustCronSchedule("0 8 * * 1", time.UTC)
	next := weekly.Next(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 8, next.Hour())

	_, err := NewCronSchedule("61 * * * *", time.UTC)
	assert.Error(t, err)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 5m", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, &IntervalSchedule{Interval: 5 * time.Minute}, s)

	s, err = ParseSchedule("0 8 * * 1", time.UTC)
	require.NoError(t, err)
	assert.IsType(t, &CronSchedule{}, s)

	_, err = ParseSchedule("@every soon", time.UTC)
	assert.Error(t, err)
}

func TestScheduler_RegisterRejectsDuplicates(t *testing.T) {
	s := quietScheduler()
	job := funcJob{name: "a", run: func(ctx context.Context) error { return nil }}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(funcJob{name: "b"}, nil), ErrNilSchedule)
}

func TestScheduler_RunNowRecoversPanics(t *testing.T) {
	s := quietScheduler()
	require.NoError(t, s.Register(funcJob{name: "boom", run: func(ctx context.Context) error {
		panic("bad row")
	}}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "boom")
	assert.ErrorIs(t, err, ErrJobPanicked)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].FailCount)
	require.NotNil(t, infos[0].LastResult)
	assert.ErrorIs(t, infos[0].LastResult.Error, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_SkipsWhileRunning(t *testing.T) {
	s := quietScheduler()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, s.Register(funcJob{name: "slow", run: func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}}, NewIntervalSchedule(time.Hour)))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		done <- err
	}()
	<-started

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	assert.NoError(t, <-done)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.False(t, infos[0].Running)
	assert.Equal(t, int64(1), infos[0].RunCount)
}

func TestScheduler_RegisterWhileRunningWakesLoop(t *testing.T) {
	s := quietScheduler()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Register(funcJob{name: "late", run: func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}, NewIntervalSchedule(10*time.Millisecond)))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job registered after Start never ran")
	}
}

func TestScheduler_RunsDueJobsAndStops(t *testing.T) {
	s := quietScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Register(funcJob{name: "tick", run: func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always fails")
	}}, NewIntervalSchedule(10*time.Millisecond)))

	var completed atomic.Int32
	s.OnJobComplete(func(r RunResult) { completed.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	assert.Equal(t, runs.Load(), completed.Load())
	info := s.ListJobs()[0]
	assert.Equal(t, int64(runs.Load()), info.FailCount)
	assert.False(t, info.LastResult.Manual)
}
