package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string     { return e.err.Error() }
func (e *retryableError) IsRetryable() bool { return true }
func (e *retryableError) Unwrap() error     { return e.err }

func NewRetryableError(err error) RetryableError {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type FatalError interface {
	error
	IsFatal() bool
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) IsFatal() bool { return true }
func (e *fatalError) Unwrap() error { return e.err }

func NewFatalError(err error) FatalError {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Policy is a bounded exponential backoff retry policy. All external calls in
// the pipeline (mailbox, analysis service, notification channels) go through
// one of these, configured rather than hard-coded.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime

	var b backoff.BackOff = exp
	b = backoff.WithContext(b, ctx)
	b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	return b
}

// Do retries fn per the policy. Errors implementing FatalError stop the loop
// immediately; everything else is treated as retryable.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	return DoWithCallback(ctx, policy, fn, nil)
}

// DoWithCallback is Do with an observer invoked before each retry sleep.
func DoWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}

		var fatalErr FatalError
		if errors.As(err, &fatalErr) && fatalErr.IsFatal() {
			return backoff.Permanent(err)
		}

		var retryableErr RetryableError
		if errors.As(err, &retryableErr) && !retryableErr.IsRetryable() {
			return backoff.Permanent(err)
		}

		if onRetry != nil && attempt < policy.MaxAttempts {
			onRetry(attempt, err, NextDelay(attempt, policy))
		}

		return err
	}

	return backoff.Retry(operation, policy.backoff(ctx))
}

// NextDelay reports the delay the policy would apply after the given attempt,
// ignoring jitter. The first retry sleeps the initial interval.
func NextDelay(attempt int, policy Policy) time.Duration {
	d := float64(policy.InitialInterval) * math.Pow(policy.Multiplier, float64(attempt-1))
	if d > float64(policy.MaxInterval) {
		return policy.MaxInterval
	}
	return time.Duration(d)
}
