package connection

import (
	"math/rand"
	"time"
)

// backoff computes reconnection delays: exponential in the attempt count,
// capped at max, then scaled by a uniform jitter factor in [0.8, 1.2] so a
// fleet of clients does not reconnect in lockstep.
type backoff struct {
	base time.Duration
	max  time.Duration
}

// preJitterDelay returns min(base * 2^attempt, max).
func (b backoff) preJitterDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := b.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.max || d <= 0 { // <= 0 guards shift overflow
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}

// delay returns the jittered delay for the given attempt.
func (b backoff) delay(attempt int) time.Duration {
	d := b.preJitterDelay(attempt)
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}
