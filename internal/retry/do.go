package retry

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// NotifyFunc is called before every wait with the failure that caused it.
type NotifyFunc func(err error, attempt int, delay time.Duration)

// Sleep is the real-time SleepFunc.
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

type options struct {
	sleep  SleepFunc
	notify NotifyFunc
}

// Option customizes Do.
type Option func(*options)

// WithSleep replaces the real-time wait, typically in tests.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithNotify registers a callback invoked before each retry wait.
func WithNotify(fn NotifyFunc) Option {
	return func(o *options) { o.notify = fn }
}

// Do calls op until it succeeds, d declines another attempt, or ctx is
// done. The error of the last attempt is returned when retries end; a
// context error is returned when ctx ends first.
func Do[T any](ctx context.Context, d Decider, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if !d.ShouldRetry(err, attempt) {
			return zero, err
		}
		wait := d.Delay(err, attempt)
		if o.notify != nil {
			o.notify(err, attempt, wait)
		}
		if err := o.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}
