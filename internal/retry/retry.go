// Package retry wraps github.com/cenkalti/backoff for transient backend
// errors: bounded attempts, small jitter-free delays. Defaults to a linear
// schedule (attempts * baseDelay) rather than exponential growth, since
// low-level I/O errors call for small, predictable retry spacing rather
// than a runaway exponential curve.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

// Options configures a retry run. Zero value is the documented default:
// 100ms per attempt, up to 3 attempts.
type Options struct {
	BaseDelay   time.Duration
	MaxAttempts uint
	Notify      func(err error, attempt uint, delay time.Duration)
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 100 * time.Millisecond
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	return o
}

// linearBackOff grows its delay as attempt*base, with no randomization —
// transient backend errors get jitter-free, small delays.
type linearBackOff struct {
	base    time.Duration
	attempt uint
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.base
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// Do runs op until it succeeds, ctx is cancelled, or MaxAttempts is
// exhausted. The last error is wrapped with attempt-count context and
// returned; a nil return means op eventually succeeded.
func Do(ctx context.Context, opts Options, op func() error) error {
	opts = opts.withDefaults()

	lb := &linearBackOff{base: opts.BaseDelay}
	bo := backoff.WithMaxRetries(lb, uint64(opts.MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	var attempt uint
	var lastErr error
	wrapped := func() error {
		attempt++
		lastErr = op()
		return lastErr
	}

	notify := func(err error, d time.Duration) {
		if opts.Notify != nil {
			opts.Notify(err, attempt, d)
		}
	}

	if err := backoff.RetryNotify(wrapped, bo, notify); err != nil {
		return errors.Wrapf(lastErr, "retry: exhausted after %d attempt(s)", attempt)
	}
	return nil
}
