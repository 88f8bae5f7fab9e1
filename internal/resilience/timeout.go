package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeoutError is returned by WithTimeout when the deadline elapses before
// the task finishes.
type TimeoutError struct {
	Message string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return e.Message
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// WithTimeout races fn against a timer. On timeout it returns a *TimeoutError
// and abandons the task: the goroutine running fn keeps going until it
// observes the cancelled context, so callers must release any resource the
// task holds (e.g. close a browser page) themselves.
func WithTimeout[T any](ctx context.Context, d time.Duration, msg string, fn func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		val, err := fn(tctx)
		done <- outcome{val, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, &TimeoutError{Message: msg, After: d}
	}
}
