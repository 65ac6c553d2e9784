package session

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second

	// stableOnlinePeriod is the ONLINE duration that resets the retry
	// counter, per spec.md §4.5.
	stableOnlinePeriod = 30 * time.Second
)

// backoff returns the exponential-backoff-with-jitter delay for the
// given zero-based retry attempt, per spec.md §4.5: starts at 1 s,
// doubles to a 30 s cap, ±20% jitter.
func backoff(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}
	jitter := (rand.Float64()*0.4 - 0.2) * float64(d)
	d = time.Duration(float64(d) + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
