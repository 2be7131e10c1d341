// Package retry wraps github.com/sethvargo/go-retry with the linear
// backoff used for page fetches and search provider calls: after the
// i-th failed attempt (0-based) the caller waits (i+1) units.
package retry

import (
	"context"
	"sync/atomic"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy controls how many attempts are made and how long to wait between them.
type Policy struct {
	// Attempts is the total number of tries, including the first. Values below 1 mean 1.
	Attempts int
	// Unit is the base wait; the wait after attempt i is (i+1)*Unit.
	Unit time.Duration
}

// Linear returns a go-retry backoff that yields unit, 2*unit, 3*unit, ...
func Linear(unit time.Duration) goretry.Backoff {
	var attempt uint64
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		n := atomic.AddUint64(&attempt, 1)
		return time.Duration(n) * unit, false
	})
}

// Retryable marks err as eligible for another attempt.
// Errors not passed through Retryable stop the loop immediately.
func Retryable(err error) error {
	return goretry.RetryableError(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is done. The returned error is fn's last
// error with the retryable marker removed.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := goretry.WithMaxRetries(uint64(attempts-1), Linear(p.Unit))

	attempt := 0
	return goretry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx, attempt)
		attempt++
		return err
	})
}
