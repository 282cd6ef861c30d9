package syncer

import (
	"context"
	"time"
)

// backoff retries an operation with exponentially growing, capped delays.
type backoff struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
}

// delay returns the wait before retry number attempt (0-based).
func (b backoff) delay(attempt int) time.Duration {
	d := b.base
	for range attempt {
		d *= 2
		if b.max > 0 && d >= b.max {
			return b.max
		}
	}
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

// do runs fn up to maxRetries+1 times and returns the last error.
func (b backoff) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == b.maxRetries || !sleep(ctx, b.delay(attempt)) {
			break
		}
	}
	return err
}

// sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
