package queue

import "time"

// Backoff computes capped exponential retry delays: the delay doubles each
// attempt, starting at Initial and never exceeding Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the delay before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}

	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
