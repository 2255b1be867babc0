package httputil

import (
	"context"
	"errors"
	"time"
)

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures (network timeouts, 5xx responses) with this type
// so that callers of [RetryFunc] can pass [IsRetryable] as the predicate.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err or anything it wraps is a RetryableError.
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// RetryFunc executes fn up to attempts times with exponential backoff.
// Errors for which retryable returns false are returned immediately. fn
// receives the 1-based attempt number and the delay doubles after each
// failed attempt. Returns the last error if all attempts fail, or
// ctx.Err() if cancelled while waiting.
func RetryFunc(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := range attempts {
		if err := fn(i + 1); err == nil {
			return nil
		} else if lastErr = err; !retryable(err) {
			return err
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}
