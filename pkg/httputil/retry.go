package httputil

import (
	"context"
	"errors"
	"time"
)

// RetryableError marks a failure as transient. Only errors wrapped in
// RetryableError are attempted again by [Retry].
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError. It returns nil for nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// Policy controls how often and how patiently [Retry] tries again.
type Policy struct {
	Attempts int           // total calls including the first, minimum 1
	Delay    time.Duration // wait before the second call, doubled after each failure
}

// DefaultPolicy is three attempts starting at one second.
var DefaultPolicy = Policy{Attempts: 3, Delay: time.Second}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are used up. The last error is returned on exhaustion,
// ctx.Err() if the context ends while waiting.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.Delay
	var lastErr error

	for i := range attempts {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return lastErr
}
