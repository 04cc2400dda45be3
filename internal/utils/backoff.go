package utils

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// DelayHint lets an error dictate its own retry delay, e.g. a provider
// Retry-After header.
type DelayHint interface {
	Delay() time.Duration
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as not retryable; Backoff.Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Backoff retries fn up to MaxRetries additional attempts with exponential
// backoff plus jitter. MaxRetries 0 means a single attempt.
type Backoff struct {
	Base       time.Duration
	MaxRetries int
	OnRetry    func(attempt int)
}

func NewBackoff(base time.Duration, maxRetries int) Backoff {
	return Backoff{Base: base, MaxRetries: maxRetries}
}

func (b Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for i := 0; ; i++ {
		err = fn(i)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i >= b.MaxRetries {
			return err
		}

		sleep := time.Duration(1<<i) * b.Base
		var hint DelayHint
		if errors.As(err, &hint) && hint.Delay() > 0 {
			sleep = hint.Delay()
		} else if j := int64(b.Base) / 2; j > 0 {
			sleep += time.Duration(rand.Int63n(j))
		}
		if b.OnRetry != nil {
			b.OnRetry(i + 1)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
