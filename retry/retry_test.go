package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/logging"
)

func newTestExecutor() *Executor {
	e := New(logging.Discard())
	e.BaseDelay = time.Millisecond
	return e
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	e := newTestExecutor()
	calls := 0

	err := e.Execute(context.Background(), "calendar.events.insert", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteNeverRetriesClientErrors(t *testing.T) {
	clientErrors := []error{
		&googleapi.Error{Code: 400},
		&googleapi.Error{Code: 401},
		&googleapi.Error{Code: 403},
		apperr.New(apperr.KindAuth, "auth", "not signed in"),
		apperr.Validation("sync", "attendee email is required"),
	}

	for _, clientErr := range clientErrors {
		e := newTestExecutor()
		calls := 0
		err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return clientErr
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls, "client error %v must not be retried", clientErr)
		assert.Equal(t, apperr.Classify(clientErr), apperr.Classify(err))
	}
}

func TestExecuteRetriesTransientExactlyMaxAttempts(t *testing.T) {
	e := newTestExecutor()
	calls := 0

	err := e.Execute(context.Background(), "calendar.events.insert", func(ctx context.Context) error {
		calls++
		return &googleapi.Error{Code: 503, Message: "backend unavailable"}
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Equal(t, apperr.KindTransient, apperr.Classify(err))
	assert.Contains(t, err.Error(), "calendar.events.insert")
	assert.Contains(t, err.Error(), "3 attempt(s)")

	var gerr *googleapi.Error
	require.True(t, errors.As(err, &gerr), "terminal error keeps the last cause")
	assert.Equal(t, 503, gerr.Code)
}

func TestExecuteRecoversAfterTransientFailure(t *testing.T) {
	e := newTestExecutor()
	calls := 0

	err := e.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return &googleapi.Error{Code: 429}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecuteNHonorsBudget(t *testing.T) {
	e := newTestExecutor()
	calls := 0

	err := e.ExecuteN(context.Background(), "op", 5, func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})

	require.Error(t, err)
	assert.Equal(t, 5, calls)
}

func TestExecuteAppliesAttemptTimeout(t *testing.T) {
	e := newTestExecutor()
	e.AttemptTimeout = 5 * time.Millisecond
	e.MaxAttempts = 2
	calls := 0

	err := e.Execute(context.Background(), "slow", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, apperr.KindTransient, apperr.Classify(err))
}

func TestExecuteStopsWhenParentCancelled(t *testing.T) {
	e := New(logging.Discard())
	e.BaseDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx, "op", func(ctx context.Context) error {
			calls++
			return &googleapi.Error{Code: 500}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after cancellation")
	}
}

func TestCallReturnsValue(t *testing.T) {
	e := newTestExecutor()

	id, err := Call(context.Background(), e, "op", func(ctx context.Context) (string, error) {
		return "evt-123", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "evt-123", id)
}
