package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTemporaryError struct{ temporary bool }

func (e *fakeTemporaryError) Error() string   { return "temporary error" }
func (e *fakeTemporaryError) Temporary() bool { return e.temporary }

type fakeTimeoutError struct{ timedOut bool }

func (e *fakeTimeoutError) Error() string { return "timeout error" }
func (e *fakeTimeoutError) Timeout() bool { return e.timedOut }

func TestRetryPolicy_NeverRetriesCancellation(t *testing.T) {
	rp := DefaultRetryPolicy()
	assert.False(t, rp.shouldRetry(&CancelledError{Cause: context.Canceled}))
}

func TestRetryPolicy_NeverRetriesTimeout(t *testing.T) {
	rp := DefaultRetryPolicy()
	assert.False(t, rp.shouldRetry(&TimeoutError{NodeID: "n1", Timeout: time.Second}))
}

func TestRetryPolicy_DefersToTemporaryDuckType(t *testing.T) {
	rp := DefaultRetryPolicy()
	assert.True(t, rp.shouldRetry(&fakeTemporaryError{temporary: true}))
	assert.False(t, rp.shouldRetry(&fakeTemporaryError{temporary: false}))
}

func TestRetryPolicy_DefersToTimeoutDuckType(t *testing.T) {
	rp := DefaultRetryPolicy()
	assert.True(t, rp.shouldRetry(&fakeTimeoutError{timedOut: true}))
	assert.False(t, rp.shouldRetry(&fakeTimeoutError{timedOut: false}))
}

func TestRetryPolicy_PlainErrorIsRetryableByDefault(t *testing.T) {
	rp := DefaultRetryPolicy()
	assert.True(t, rp.shouldRetry(errors.New("boom")))
}

func TestRetryPolicy_RetryableErrorsPatternOverridesDuckType(t *testing.T) {
	rp := DefaultRetryPolicy()
	rp.RetryableErrors = []string{"rate limit"}
	assert.False(t, rp.shouldRetry(&fakeTemporaryError{temporary: true}))
	assert.True(t, rp.shouldRetry(errors.New("hit rate limit, back off")))
}

func TestRetryPolicy_ExecuteStopsAfterCancellationWithoutDelay(t *testing.T) {
	rp := DefaultRetryPolicy()
	rp.InitialDelay = time.Hour
	attempts := 0
	err := rp.Execute(context.Background(), func() error {
		attempts++
		return &CancelledError{Cause: context.Canceled}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_ExecuteRetriesTransientErrorUntilSuccess(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 3, BackoffStrategy: BackoffConstant}
	attempts := 0
	err := rp.Execute(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return &fakeTemporaryError{temporary: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
