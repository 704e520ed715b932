package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff is stateful once Do has been called; build a fresh one per loop.
type Backoff struct {
	b retry.Backoff
}

func RetryableError(err error) error {
	return retry.RetryableError(err)
}

// Immediate retries without delay and without an attempt limit.
func Immediate() Backoff {
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	})

	return Backoff{
		b: b,
	}
}

// WithMaxAttempts stops retrying after the given number of calls. Zero means unbounded.
func (in Backoff) WithMaxAttempts(attempts uint64) Backoff {
	if attempts == 0 {
		return in
	}
	in.b = retry.WithMaxRetries(attempts-1, in.b)
	return in
}

func (in Backoff) Do(ctx context.Context, f retry.RetryFunc) error {
	return retry.Do(ctx, in.b, f)
}
