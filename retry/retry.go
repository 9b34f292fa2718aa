// ABOUTME: Retriable call executor with bounded exponential backoff and per-attempt timeouts
// ABOUTME: Retries only transient failures; auth and client errors surface immediately
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	goretry "github.com/sethvargo/go-retry"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/logging"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// Executor runs remote calls with retry. The zero value is not usable;
// construct with New.
type Executor struct {
	BaseDelay      time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration

	logger *log.Logger
}

// New returns an Executor with the default policy: 3 attempts, 1s base delay
// doubling per attempt, 30s ceiling on each attempt.
func New(logger *log.Logger) *Executor {
	return &Executor{
		BaseDelay:      DefaultBaseDelay,
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
		logger:         logging.OrDefault(logger),
	}
}

// Execute runs op until it succeeds, fails with a non-transient error, or
// MaxAttempts tries are used up. The terminal error is tagged with name.
func (e *Executor) Execute(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return e.ExecuteN(ctx, name, e.MaxAttempts, op)
}

// ExecuteN is Execute with an explicit attempt budget.
func (e *Executor) ExecuteN(ctx context.Context, name string, maxAttempts int, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoff := goretry.WithMaxRetries(uint64(maxAttempts-1), goretry.NewExponential(e.baseDelay()))

	attempt := 0
	var lastErr error
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		err := e.runAttempt(ctx, op)
		if err == nil {
			e.logger.Debug("call succeeded", "op", name, "attempt", attempt)
			return nil
		}
		lastErr = err

		kind := apperr.Classify(err)
		if !kind.Retryable() {
			e.logger.Warn("call failed, not retrying", "op", name, "attempt", attempt, "kind", kind, "err", err)
			return err
		}

		if attempt < maxAttempts {
			e.logger.Warn("call failed, retrying", "op", name, "attempt", attempt, "max", maxAttempts, "kind", kind, "err", err)
		}
		return goretry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	// go-retry reports only ctx.Err() once the parent context ends; keep the
	// last remote failure attached for diagnostics.
	if lastErr != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && !errors.Is(lastErr, err) {
		err = errors.Join(err, lastErr)
	}

	kind := apperr.Classify(err)
	e.logger.Error("call failed", "op", name, "attempts", attempt, "kind", kind, "err", err)
	return &apperr.Error{
		Kind: kind,
		Op:   name,
		Msg:  fmt.Sprintf("failed after %d attempt(s)", attempt),
		Err:  err,
	}
}

func (e *Executor) runAttempt(ctx context.Context, op func(ctx context.Context) error) error {
	if e.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

func (e *Executor) baseDelay() time.Duration {
	if e.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return e.BaseDelay
}

// Call runs op through e and returns its result.
func Call[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
