package dispatcher

import (
	"math/rand"
	"time"
)

// BackoffDelay calculates the delay before the next retry for an event that
// has failed transiently `attempts` times: base x 2^attempts with equal
// jitter, capped at max. The jitter keeps a burst of failures from retrying
// in lockstep; the returned delay is always in [exp/2, exp].
func BackoffDelay(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}

	exp := base
	for i := 0; i < attempts; i++ {
		exp *= 2
		if exp >= max {
			exp = max
			break
		}
	}

	half := exp / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
