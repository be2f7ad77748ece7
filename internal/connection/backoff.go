package connection

import (
	"math/rand"
	"time"
)

// jitterWindow is the additive random spread applied to each reconnect
// delay so simultaneous clients do not retry in lockstep.
const jitterWindow = time.Second

// backoffDelay computes the wait before reconnect attempt n:
// min(base * 2^(n-1) + jitter, cap), jitter uniform in [0, 1s).
func backoffDelay(attempt int, base, capDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if capDelay < base {
		capDelay = base
	}

	// shift overflows past ~63 doublings; clamp well before that
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= capDelay {
			return capDelay
		}
	}

	d += time.Duration(rand.Int63n(int64(jitterWindow)))
	if d > capDelay {
		return capDelay
	}
	return d
}
