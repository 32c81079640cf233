package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	BaseWait    time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// RetryIf decides whether an error is worth another attempt.
	// nil retries every error.
	RetryIf func(error) bool
	// Sleep replaces the wait between attempts. Tests inject a recorder so
	// backoff schedules can be asserted without real timers. nil sleeps for
	// real, honouring ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetry matches the per-item extraction policy: three attempts, then
// the item is dropped.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	BaseWait:    time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// BackoffWait returns the wait before retry number attempt (1-based): the
// base doubles each attempt, with up to +50% jitter. Jitter only ever adds,
// so consecutive waits never shrink.
func BackoffWait(opts RetryOpts, attempt int) time.Duration {
	wait := opts.BaseWait << (attempt - 1)
	if opts.Jitter {
		wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
	}
	if opts.MaxWait > 0 && wait > opts.MaxWait {
		wait = opts.MaxWait
	}
	return wait
}

// Retry runs f up to MaxAttempts times with exponential backoff between
// attempts. The final failure is returned as-is; callers decide whether a
// dropped item is fatal.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = realSleep
	}

	var result Result[T]
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if opts.RetryIf != nil && !opts.RetryIf(result.Error()) {
			break
		}
		if err := sleep(ctx, BackoffWait(opts, attempt)); err != nil {
			return Err[T](err)
		}
	}
	return result
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
