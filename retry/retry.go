// Package retry runs fallible operations a bounded number of times
// with a fixed pause between attempts.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("logger", "retry")

// Policy describes how often and how patiently to retry.
// The zero Policy tries once.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 mean 1.
	MaxAttempts int

	// Delay is the pause between a failed attempt and the next one.
	// It does not grow and has no jitter.
	Delay time.Duration

	// Retryable, if set, decides which failures are worth another attempt.
	// A failure it rejects is returned at once, unwrapped.
	// When nil, every failure is retryable.
	Retryable func(error) bool

	// Sleep waits out Delay.
	// When nil, a timer is used that gives up early if ctx is canceled.
	Sleep func(ctx context.Context, d time.Duration) error

	// Name labels log entries.
	Name string
}

// DefaultPolicy is three attempts, three seconds apart.
var DefaultPolicy = Policy{MaxAttempts: 3, Delay: 3 * time.Second}

// ExhaustedError is returned when every attempt failed.
// Err is the last failure, unmodified.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %s", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls op until it succeeds or the policy's attempts run out.
//
// Once an attempt starts it runs to completion;
// ctx is passed to op so the transport can honor it,
// but Do itself only checks ctx while waiting between attempts.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	l := log
	if p.Name != "" {
		l = l.WithField("op", p.Name)
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		l.WithField("attempt", attempt).Debugf("attempt %d/%d", attempt, attempts)

		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			l.WithError(err).Debug("failure is not retryable")
			return zero, err
		}
		lastErr = err

		remaining := attempts - attempt
		if remaining == 0 {
			break
		}
		l.WithError(err).WithField("remaining", remaining).
			Warnf("attempt %d/%d failed, retrying in %s (%d attempt(s) left)", attempt, attempts, p.Delay, remaining)

		if err := sleep(ctx, p.Delay); err != nil {
			return zero, errors.Wrapf(err, "waiting to retry after %s", lastErr)
		}
	}

	l.WithError(lastErr).Errorf("giving up after %d attempt(s)", attempts)
	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Run is Do for operations with no result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
