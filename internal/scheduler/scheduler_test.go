package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
)

func testScheduler() *Scheduler {
	return New(logging.New(false, true))
}

func noopJob(ctx context.Context) (JobResult, error) {
	return JobResult{Processed: 1, Succeeded: 1}, nil
}

func TestScheduler_RegisterValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		job  Job
	}{
		{"empty name", Job{Interval: time.Minute, Run: noopJob}},
		{"zero interval", Job{Name: "j", Run: noopJob}},
		{"negative interval", Job{Name: "j", Interval: -time.Second, Run: noopJob}},
		{"nil body", Job{Name: "j", Interval: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testScheduler()
			err := s.Register(tt.job)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestScheduler_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	require.NoError(t, s.Register(Job{Name: "sweep", Interval: time.Minute, Run: noopJob}))
	err := s.Register(Job{Name: "sweep", Interval: time.Hour, Run: noopJob})
	assert.True(t, errors.IsValidation(err), "got %v", err)
}

func TestScheduler_TriggerJob(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	require.NoError(t, s.Register(Job{Name: "sweep", Interval: time.Minute, Run: noopJob}))

	result, err := s.TriggerJob(context.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Succeeded)

	statuses := s.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, int64(1), statuses[0].TotalRuns)
	assert.False(t, statuses[0].LastRun.IsZero())
	assert.Equal(t, statuses[0].LastRun.Add(time.Minute), statuses[0].NextRun)
	assert.Empty(t, statuses[0].LastError)
	require.NotNil(t, statuses[0].LastResult)
	assert.Equal(t, 1, statuses[0].LastResult.Processed)
}

func TestScheduler_TriggerUnknownJob(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	_, err := s.TriggerJob(context.Background(), "ghost")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestScheduler_NoOverlap(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Interval: time.Minute,
		Run: func(ctx context.Context) (JobResult, error) {
			close(entered)
			<-release
			return JobResult{}, nil
		},
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.TriggerJob(context.Background(), "slow")
		assert.NoError(t, err)
	}()

	<-entered
	_, err := s.TriggerJob(context.Background(), "slow")
	assert.True(t, errors.IsStateConflict(err), "got %v", err)

	close(release)
	<-done

	// The slot reopens once the run finishes.
	statuses := s.Status()
	assert.False(t, statuses[0].Running)
}

func TestScheduler_PanicRecovery(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	require.NoError(t, s.Register(Job{
		Name:     "flaky",
		Interval: time.Minute,
		Run: func(ctx context.Context) (JobResult, error) {
			panic("nil map write")
		},
	}))

	_, err := s.TriggerJob(context.Background(), "flaky")
	require.ErrorContains(t, err, "panicked")

	statuses := s.Status()
	assert.Contains(t, statuses[0].LastError, "nil map write")
	assert.False(t, statuses[0].Running, "a panic must not wedge the job")

	// The job remains triggerable.
	_, err = s.TriggerJob(context.Background(), "flaky")
	assert.ErrorContains(t, err, "panicked")
}

func TestScheduler_FailedRunKeepsResult(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	require.NoError(t, s.Register(Job{
		Name:     "partial",
		Interval: time.Minute,
		Run: func(ctx context.Context) (JobResult, error) {
			return JobResult{Processed: 3, Succeeded: 2, Failed: 1, Errors: []string{"cred-3: timeout"}},
				errors.NotFoundError{Kind: "credential", ID: "cred-3"}
		},
	}))

	result, err := s.TriggerJob(context.Background(), "partial")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Processed)

	statuses := s.Status()
	assert.NotEmpty(t, statuses[0].LastError)
	require.NotNil(t, statuses[0].LastResult)
	assert.Equal(t, []string{"cred-3: timeout"}, statuses[0].LastResult.Errors)
}

func TestScheduler_StartRunsImmediatelyThenOnInterval(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "ticky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) (JobResult, error) {
			runs.Add(1)
			return JobResult{}, nil
		},
	}))

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(2), "expected the immediate run plus at least one tick")
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	entered := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(ctx context.Context) (JobResult, error) {
			close(entered)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return JobResult{}, nil
		},
	}))

	s.Start(context.Background())
	<-entered
	s.Stop()
	assert.True(t, finished.Load(), "Stop must wait for the in-flight run")
}

func TestScheduler_StartIdempotent(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "once",
		Interval: time.Hour,
		Run: func(ctx context.Context) (JobResult, error) {
			runs.Add(1)
			return JobResult{}, nil
		},
	}))

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "a second Start must not spawn duplicate loops")
}

func TestScheduler_StatusOrderAndJobNames(t *testing.T) {
	t.Parallel()

	s := testScheduler()
	for _, name := range []string{"zebra", "alpha", "mango"} {
		require.NoError(t, s.Register(Job{Name: name, Interval: time.Minute, Run: noopJob}))
	}

	statuses := s.Status()
	require.Len(t, statuses, 3)
	assert.Equal(t, "zebra", statuses[0].Name) // registration order
	assert.Equal(t, "alpha", statuses[1].Name)

	assert.Equal(t, []string{"alpha", "mango", "zebra"}, s.JobNames())
}
