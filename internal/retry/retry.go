// Package retry models per-task retry policies independent of any broker.
// Handlers classify errors as permanent or transient; the worker runtime
// interprets the policy through delayed queue redelivery.
package retry

import (
	"errors"
	"time"
)

// Policy describes how many times a failed task may be retried and how long
// to wait before each attempt.
type Policy struct {
	// MaxAttempts is the maximum number of retries after the initial attempt.
	MaxAttempts int

	// Delay returns the redelivery delay for a given attempt index,
	// starting at 0 for the first retry.
	Delay func(attempt int) time.Duration
}

// ShouldRetry reports whether another retry is allowed after the given number
// of completed attempts (0 = the initial attempt just failed).
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Exponential returns a doubling delay function: base * 2^attempt.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << uint(attempt)
	}
}

// Per-task policies. Delays follow base * 2^attempt.
var (
	EventProcessing     = Policy{MaxAttempts: 3, Delay: Exponential(1 * time.Second)}
	WebhookTrigger      = Policy{MaxAttempts: 3, Delay: Exponential(1 * time.Second)}
	WebhookDelivery     = Policy{MaxAttempts: 5, Delay: Exponential(5 * time.Second)}
	EmailNotification   = Policy{MaxAttempts: 3, Delay: Exponential(60 * time.Second)}
	WebhookNotification = Policy{MaxAttempts: 5, Delay: Exponential(30 * time.Second)}

	// None is for tasks whose failures are never redelivered.
	None = Policy{MaxAttempts: 0, Delay: Exponential(0)}
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable: missing entities, wrong
// channels, malformed input. The task boundary drops these immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
