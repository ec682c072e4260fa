package chain

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testPolicy = retryPolicy{
	timeout:  50 * time.Millisecond,
	attempts: 5,
	backoff:  time.Millisecond,
	jitter:   0.5,
}

// TestWithRetrySucceedsAfterFailures ensures transient failures are retried.
func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	res, err := withRetry(context.Background(), testPolicy, "test",
		func() (int, error) {
			if calls.Add(1) < 3 {
				return 0, errors.New("flaky")
			}
			return 42, nil
		})
	require.NoError(t, err)
	require.Equal(t, 42, res)
	require.EqualValues(t, 3, calls.Load())
}

// TestWithRetryGivesUp ensures the last error is surfaced once every attempt
// failed.
func TestWithRetryGivesUp(t *testing.T) {
	t.Parallel()

	errFlaky := errors.New("flaky")
	var calls atomic.Int32
	_, err := withRetry(context.Background(), testPolicy, "test",
		func() (int, error) {
			calls.Add(1)
			return 0, errFlaky
		})
	require.ErrorIs(t, err, errFlaky)
	require.EqualValues(t, testPolicy.attempts, calls.Load())
}

// TestWithRetryTimeout ensures a hung call counts as a timed out attempt.
func TestWithRetryTimeout(t *testing.T) {
	t.Parallel()

	p := testPolicy
	p.attempts = 2

	block := make(chan struct{})
	defer close(block)

	_, err := withRetry(context.Background(), p, "test",
		func() (int, error) {
			<-block
			return 0, nil
		})
	require.ErrorIs(t, err, ErrCallTimeout)
}

// TestWithRetryContextCancel ensures a cancelled context stops retrying.
func TestWithRetryContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withRetry(ctx, testPolicy, "test", func() (int, error) {
		return 0, errors.New("unreachable backend")
	})
	require.ErrorIs(t, err, context.Canceled)
}

// TestCalculateMinMax checks the jitter bounds, including the clamp at zero.
func TestCalculateMinMax(t *testing.T) {
	t.Parallel()

	min, max := calculateMinMax(100, 0.5)
	require.EqualValues(t, 50, min)
	require.EqualValues(t, 150, max)

	min, max = calculateMinMax(100, 2)
	require.Zero(t, min)
	require.EqualValues(t, 300, max)

	require.Panics(t, func() { calculateMinMax(100, -1) })
}

// TestFeeRateFromBTCPerKVB checks the unit conversion and the relay floor.
func TestFeeRateFromBTCPerKVB(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want FeeRate
	}{
		{name: "ten sat/vB", in: 0.0001, want: 10},
		{name: "below floor", in: 0.000001, want: RelayFeeFloor},
		{name: "nan", in: math.NaN(), want: RelayFeeFloor},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, float64(tc.want),
				float64(feeRateFromBTCPerKVB(tc.in)), 1e-4)
		})
	}
}
