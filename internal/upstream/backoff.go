package upstream

import (
	"math/rand"
	"time"
)

// Backoff computes the retry delay for an attempt: exponential with random
// jitter in [0, 1s), capped before jitter. Attempt counts from zero.
func Backoff(attempt int, cap time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if cap > 0 && d > cap {
		d = cap
	}
	return d + time.Duration(rand.Int63n(int64(time.Second)))
}
