package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

var errBoom = errors.New("boom")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "commit", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("bad document")
	err := Retry(context.Background(), "commit", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	err := Retry(context.Background(), "commit", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "commit", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerTransitions(t *testing.T) {
	var states []State
	cb := NewCircuitBreaker("cache", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, to State) { states = append(states, to) },
	})
	fail := func() error { return errBoom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ok), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, states)
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "search", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, apperrors.HTTPStatusCode(err))

	err = WithTimeout(context.Background(), 0, "search", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)

	err = WithTimeout(context.Background(), time.Second, "search", func(ctx context.Context) error { return errBoom })
	assert.Same(t, errBoom, err, "errors inside the budget pass through")

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(parent, time.Second, "search", func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrTimeout)
}
