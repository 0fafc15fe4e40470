package transport

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffFunc returns how long a link sender waits before the next attempt
// on a message. attempt counts the attempts already made, starting at 1. The
// same function paces retries after a failed forward and re-checks of a
// destination held under UnreachableHold.
type BackoffFunc func(attempt int) time.Duration

// ConstantBackoff waits delay between attempts. jitter spreads each wait by
// up to that fraction either way, so senders to one peer do not retry in step.
func ConstantBackoff(delay time.Duration, jitter float64) BackoffFunc {
	spread := jitterFunc(jitter)
	return func(int) time.Duration {
		return spread(delay)
	}
}

// ExponentialBackoff waits initial before the second attempt and multiplies
// the wait by factor for each later one, up to maxDelay (0 means unbounded).
func ExponentialBackoff(initial time.Duration, factor float64, maxDelay time.Duration, jitter float64) BackoffFunc {
	spread := jitterFunc(jitter)
	ceiling := time.Duration(math.MaxInt64)
	if maxDelay > 0 {
		ceiling = maxDelay
	}
	return func(attempt int) time.Duration {
		n := max(attempt, 1) - 1
		wait := ceiling
		if w := float64(initial) * math.Pow(factor, float64(n)); w < float64(ceiling) {
			wait = time.Duration(w)
		}
		return spread(wait)
	}
}

// jitterFunc scales a wait by a random factor in [1-j, 1+j], with j clamped
// to [0, 1].
func jitterFunc(j float64) func(time.Duration) time.Duration {
	j = math.Max(0, math.Min(j, 1))
	if j == 0 {
		return func(d time.Duration) time.Duration { return d }
	}
	return func(d time.Duration) time.Duration {
		return time.Duration(float64(d) * (1 + j*(2*rand.Float64()-1)))
	}
}
