package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: 20 * time.Millisecond}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New(testConfig(), nil)
	assert.Equal(t, Closed, b.State().State)
	assert.True(t, b.Allow())
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := New(testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure("llm_timeout")
	}
	snap := b.State()
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, "llm_timeout", snap.LastFailureReason)
	assert.False(t, b.Allow())
}

func TestBreakerResetsFailureCountOnSuccessWhileClosed(t *testing.T) {
	b := New(testConfig(), nil)
	b.RecordFailure("x")
	b.RecordFailure("x")
	b.RecordSuccess()
	b.RecordFailure("x")
	b.RecordFailure("x")
	assert.Equal(t, Closed, b.State().State, "success while closed must reset the failure streak")
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	b := New(testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure("x")
	}
	require.Equal(t, Open, b.State().State)

	require.Eventually(t, func() bool {
		return b.State().State == HalfOpen
	}, time.Second, time.Millisecond)
}

func TestBreakerClosesAfterSuccessThresholdInHalfOpen(t *testing.T) {
	b := New(testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure("x")
	}
	require.Eventually(t, func() bool {
		return b.State().State == HalfOpen
	}, time.Second, time.Millisecond)

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State().State, "one success is below the threshold of two")
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State().State)
}

func TestBreakerReopensOnFailureInHalfOpen(t *testing.T) {
	b := New(testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure("x")
	}
	require.Eventually(t, func() bool {
		return b.State().State == HalfOpen
	}, time.Second, time.Millisecond)

	b.RecordFailure("still_broken")
	assert.Equal(t, Open, b.State().State)
}

func TestBreakerGuardShortCircuitsWhenOpen(t *testing.T) {
	b := New(testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure("x")
	}
	called := false
	err := b.Guard(context.Background(), "probe", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "Guard must not invoke fn while open")
}

func TestBreakerGuardRecordsFailureAndSuccess(t *testing.T) {
	b := New(testConfig(), nil)

	err := b.Guard(context.Background(), "boom", func(ctx context.Context) error {
		return assertErr
	})
	assert.ErrorIs(t, err, assertErr)
	assert.Equal(t, 1, b.State().FailureCount)

	err = b.Guard(context.Background(), "", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 0, b.State().FailureCount, "a success while closed resets the streak")
}

func TestBreakerResetForcesClosed(t *testing.T) {
	b := New(testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure("x")
	}
	require.Equal(t, Open, b.State().State)

	b.Reset()
	snap := b.State()
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.True(t, b.Allow())
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
