// Package poll runs sleep-then-retry loops at a fixed cadence.
package poll

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrExhausted is returned when the attempts ran out before the check succeeded.
var ErrExhausted = errors.New("poll attempts exhausted")

// Until calls check at most once per interval until it reports done, it
// fails, ctx ends, or attempts run out. attempts <= 0 means no limit.
// The first call happens immediately.
func Until(ctx context.Context, interval time.Duration, attempts int, check func(ctx context.Context, attempt int) (bool, error)) error {
	lim := rate.NewLimiter(rate.Every(interval), 1)
	for attempt := 1; attempts <= 0 || attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		done, err := check(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}
