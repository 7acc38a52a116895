// Package retryx is the single retry-with-backoff helper used for remote
// document store calls. It wraps sethvargo/go-retry with the attempt
// semantics of the sync engine: MaxRetries is the total number of attempts
// and the wait before attempt n+1 is InitialDelay * 2^(n-1).
package retryx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy configures Do.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration

	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// ExhaustedError is returned once all attempts failed. Err is the error of
// the last attempt (or the context error if the wait was cancelled).
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op until it succeeds or the policy is exhausted. It never panics
// on op failures and always reports failure as *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = time.Millisecond
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(delay))

	var (
		result  T
		lastErr error
		n       int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		v, err := op(ctx)
		if err != nil {
			lastErr = err
			if n < attempts && p.OnRetry != nil {
				p.OnRetry(n, err)
			}
			return retry.RetryableError(err)
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		if lastErr == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			lastErr = err
		}
		return zero, &ExhaustedError{Attempts: n, Err: lastErr}
	}
	return result, nil
}
