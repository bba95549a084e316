package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/observability"
)

func TestNextFireAdvancesToTheNextWholeMinute(t *testing.T) {
	after := time.Date(2026, 7, 30, 10, 0, 30, 0, time.UTC)
	next, err := nextFire("* * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 30, 10, 1, 0, 0, time.UTC), next)
}

func TestNextFireRejectsMalformedExpression(t *testing.T) {
	_, err := nextFire("not a cron expression", time.Now())
	assert.Error(t, err)
}

func TestSchedulerRunNowFiresHandlerImmediately(t *testing.T) {
	var calls int
	var mu sync.Mutex
	s := New(observability.NewBus(nil, nil, nil))
	require.NoError(t, s.Add(EntryConfig{
		Name:           "vm-watch",
		CronExpression: "0 0 1 1 *", // once a year; RunNow bypasses the wait
		Handler: func(ctx context.Context) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.NoError(t, s.RunNow("vm-watch"))
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	status, ok := s.Status("vm-watch")
	require.True(t, ok)
	assert.False(t, status.Running)
	assert.NoError(t, status.LastErr)
}

func TestSchedulerSkipsRunNowWhileAlreadyRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(observability.NewBus(nil, nil, nil))
	require.NoError(t, s.Add(EntryConfig{
		Name:           "slow",
		CronExpression: "0 0 1 1 *",
		Handler: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	go func() { _ = s.RunNow("slow") }()
	<-started

	err := s.RunNow("slow")
	assert.Error(t, err, "a second run_now while the handler is in flight must be rejected")

	close(release)
}

func TestSchedulerRunNowUnknownEntry(t *testing.T) {
	s := New(observability.NewBus(nil, nil, nil))
	err := s.RunNow("does-not-exist")
	assert.Error(t, err)
}

func TestSchedulerRecordsHandlerFailure(t *testing.T) {
	s := New(observability.NewBus(nil, nil, nil))
	require.NoError(t, s.Add(EntryConfig{
		Name:           "failing",
		CronExpression: "0 0 1 1 *",
		Handler: func(ctx context.Context) error {
			return assert.AnError
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	err := s.RunNow("failing")
	assert.Error(t, err)

	status, ok := s.Status("failing")
	require.True(t, ok)
	assert.Equal(t, assert.AnError, status.LastErr)
}

func TestSchedulerStopWaitsForWorkersToExit(t *testing.T) {
	s := New(observability.NewBus(nil, nil, nil))
	require.NoError(t, s.Add(EntryConfig{
		Name:           "idle",
		CronExpression: "0 0 1 1 *",
		Handler:        func(ctx context.Context) error { return nil },
	}))

	ctx := context.Background()
	s.Start(ctx)
	s.Stop() // must return; blocks forever on a leaked goroutine otherwise
}
