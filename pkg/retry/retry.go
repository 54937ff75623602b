// Package retry re-runs operations with capped exponential backoff.
// The engine uses it around roster and ledger reads that hit the database.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so the policy returns it at once, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Policy describes how an operation is retried. The zero value makes a single
// attempt.
type Policy struct {
	// Attempts includes the first call.
	Attempts int

	// Base is the first delay; each retry doubles it up to Max.
	Base time.Duration
	Max  time.Duration

	// Jitter of 0.1 spreads each delay by +/-10%.
	Jitter float64

	// Retryable filters errors. nil retries everything except context errors.
	Retryable func(error) bool

	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Storage is the policy for roster and ledger reads.
func Storage() Policy {
	return Policy{Attempts: 3, Base: 50 * time.Millisecond, Max: time.Second, Jitter: 0.05}
}

// Backoff is the wait after the given failed attempt (1-based), before jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

func (p Policy) wait(attempt int) time.Duration {
	d := float64(p.Backoff(attempt))
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do calls op until it succeeds, attempts run out, the error is permanent or
// not retryable, or ctx ends. It returns op's last error, or ctx's error when
// op never ran.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return last
		}

		last = op(ctx)
		switch {
		case last == nil:
			return nil
		case IsPermanent(last):
			return errors.Unwrap(last)
		case n >= attempts || !p.retryable(last):
			return last
		}

		w := p.wait(n)
		if p.OnRetry != nil {
			p.OnRetry(n, last, w)
		}
		t := time.NewTimer(w)
		select {
		case <-ctx.Done():
			t.Stop()
			return last
		case <-t.C:
		}
	}
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
