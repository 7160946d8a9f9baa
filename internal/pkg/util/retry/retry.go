// Package retry implements a small exponential backoff helper used for
// broker connections and publish attempts.
package retry

import (
	"context"
	"time"
)

// Backoff describes an exponential retry schedule.
type Backoff struct {
	// Initial is the delay after the first failed attempt. Defaults to
	// one second.
	Initial time.Duration

	// Factor multiplies the delay after every failed attempt. A factor
	// of 1 keeps the delay constant. Defaults to 2.
	Factor float64

	// Max caps the delay between attempts. Zero means no cap.
	Max time.Duration

	// Attempts bounds the total number of attempts. Zero retries until
	// the context is canceled.
	Attempts int

	// OnRetry is called before every wait with the attempt number
	// (starting at 1), the error that caused the retry, and the
	// scheduled delay.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, the schedule is exhausted, or ctx is
// canceled. It returns nil on success, the context error on
// cancellation, and the last op error once attempts run out.
func Do(ctx context.Context, b Backoff, op func(ctx context.Context) error) error {
	delay := b.Initial
	if delay <= 0 {
		delay = time.Second
	}

	factor := b.Factor
	if factor < 1 {
		factor = 2
	}

	sleep := b.Sleep
	if sleep == nil {
		sleep = wait
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if b.Attempts > 0 && attempt >= b.Attempts {
			return err
		}

		if b.OnRetry != nil {
			b.OnRetry(attempt, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * factor)
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}

// wait blocks for d or until ctx is canceled.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
