package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrCallTimeout is returned when a single backend call does not answer
// within the call timeout.
var ErrCallTimeout = errors.New("backend call timed out")

// retryPolicy bounds every backend call by a timeout and retries failures
// with a jittered backoff.
type retryPolicy struct {
	// timeout bounds each attempt.
	timeout time.Duration

	// attempts is the total number of tries, including the first.
	attempts int

	// backoff is the base delay between attempts.  The actual delay lies
	// in [backoff*(1-jitter), backoff*(1+jitter)].
	backoff time.Duration
	jitter  float64
}

var defaultRetryPolicy = retryPolicy{
	timeout:  5 * time.Second,
	attempts: 5,
	backoff:  200 * time.Millisecond,
	jitter:   0.5,
}

// calculateMinMax returns the delay bounds for d with the given jitter
// scaler.  A negative lower bound is clamped to zero.
func calculateMinMax(d time.Duration, scaler float64) (int64, int64) {
	if scaler < 0 {
		panic(errors.New("scaler must be positive"))
	}

	min := math.Floor(float64(d) * (1 - scaler))
	max := math.Ceil(float64(d) * (1 + scaler))
	if 1-scaler < 0 {
		min = 0
	}

	return int64(min), int64(max)
}

func (p retryPolicy) delay() time.Duration {
	min, max := calculateMinMax(p.backoff, p.jitter)
	if max == min {
		return p.backoff
	}
	return time.Duration(rand.Int63n(max-min) + min) //nolint:gosec
}

// withRetry runs call until it succeeds, the attempts are exhausted or ctx
// is done.  call runs on its own goroutine since the RPC client offers no
// cancellation; an abandoned attempt finishes in the background.
func withRetry[T any](ctx context.Context, p retryPolicy, name string,
	call func() (T, error)) (T, error) {

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= p.attempts; attempt++ {
		res, err := callWithTimeout(ctx, p.timeout, call)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		log.Debugf("%s attempt %d/%d failed: %v", name, attempt,
			p.attempts, err)

		if attempt == p.attempts {
			break
		}
		select {
		case <-time.After(p.delay()):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", name,
		p.attempts, lastErr)
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration,
	call func() (T, error)) (T, error) {

	type result struct {
		val T
		err error
	}

	// Buffered so the goroutine can exit after we stop listening.
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		return zero, ErrCallTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
