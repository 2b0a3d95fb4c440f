package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// BackoffStrategy determines how retry delay grows between attempts,
// grounded on the teacher's InternalRetryPolicy.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy configures node-level retry behavior.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffStrategy
	RetryableErrors []string
	OnRetry         func(attempt int, err error)
}

// NoRetryPolicy returns a policy that never retries.
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

// DefaultRetryPolicy returns a sensible exponential-backoff default.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		BackoffStrategy: BackoffExponential,
	}
}

// shouldRetry first rejects the two error kinds that retrying can never fix
// (cancellation and node-level timeout), then defers to RetryableErrors
// substring matching when the policy names any, and otherwise falls back to
// isTransientHandlerError's duck-typed classification of the handler's own
// returned error.
func (rp *RetryPolicy) shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		return false
	}
	var timedOut *TimeoutError
	if errors.As(err, &timedOut) {
		return false
	}

	if len(rp.RetryableErrors) == 0 {
		return isTransientHandlerError(err)
	}
	msg := err.Error()
	for _, pattern := range rp.RetryableErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// isTransientHandlerError classifies a handler's returned error by the
// standard-library duck-typed Temporary()/Timeout() interfaces (net.Error
// and friends), the same signal net/http transports expose for connection
// resets and dial timeouts; errors.As unwraps any %w chain the handler
// built to reach them. Errors exposing neither interface are treated as
// retryable, matching the permissive default a handler author gets when
// RetryPolicy.RetryableErrors is left unset.
func isTransientHandlerError(err error) bool {
	var temporaryErr interface{ Temporary() bool }
	if errors.As(err, &temporaryErr) {
		return temporaryErr.Temporary()
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return true
}

func (rp *RetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	var d time.Duration
	switch rp.BackoffStrategy {
	case BackoffLinear:
		d = rp.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		d = time.Duration(float64(rp.InitialDelay) * math.Pow(2, float64(attempt-1)))
	default:
		d = rp.InitialDelay
	}
	if rp.MaxDelay > 0 && d > rp.MaxDelay {
		d = rp.MaxDelay
	}
	return d
}

// Execute runs fn, retrying per the policy until it succeeds, attempts are
// exhausted, or ctx is cancelled.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	maxAttempts := rp.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return &CancelledError{Cause: ctx.Err()}
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		attempts = attempt

		if attempt >= maxAttempts || !rp.shouldRetry(err) {
			break
		}
		if rp.OnRetry != nil {
			rp.OnRetry(attempt, err)
		}

		d := rp.delay(attempt)
		if d > 0 {
			select {
			case <-ctx.Done():
				return &CancelledError{Cause: ctx.Err()}
			case <-time.After(d):
			}
		}
	}

	return fmt.Errorf("%d attempt(s) failed: %w", attempts, lastErr)
}
