// Package retry provides a shared bounded-retry utility with a fixed
// inter-attempt delay.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds the retry behavior around a single logical operation.
// It is an immutable value: construct once, share freely.
type Policy struct {
	MaxAttempts int           // total attempts, minimum 1
	Delay       time.Duration // fixed wait between attempts
}

// Sleeper performs the inter-attempt wait. Tests inject a no-op sleeper to
// exercise retry counts without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper. It waits for d or until ctx is done,
// whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to p.MaxAttempts times, waiting p.Delay between attempts.
// fn receives the 1-based attempt number. It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (not retryable)
//   - ctx is cancelled during the wait
//
// There is no wait after the final attempt: exhaustion is reported
// immediately so the caller can fall back without further latency.
func Do(ctx context.Context, p Policy, sleep Sleeper, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		// Don't retry permanent errors.
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == attempts {
			break
		}

		if serr := sleep(ctx, p.Delay); serr != nil {
			return serr
		}
	}

	return err
}
