package dispatch

import (
	"math/rand"
	"time"
)

// Policy holds the retry limits and backoff constants. Backoff math is pure so
// it can be tested exhaustively without network mocks.
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Jitter      float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  5,
		BackoffBase: 30 * time.Second,
		BackoffCap:  30 * time.Minute,
		Jitter:      0.2,
	}
}

// Delay returns the backoff before the next attempt after the nth transient
// failure (n starts at 1): base·2^(n-1), jittered upward by at most Jitter,
// never above BackoffCap. Jitter spreads retries so a provider outage does
// not produce synchronized stampedes.
func (p Policy) Delay(n int, rng *rand.Rand) time.Duration {
	if n < 1 {
		n = 1
	}

	d := p.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.BackoffCap {
			d = p.BackoffCap
			break
		}
	}
	if d > p.BackoffCap {
		d = p.BackoffCap
	}

	if p.Jitter > 0 {
		var f float64
		if rng != nil {
			f = rng.Float64()
		} else {
			f = rand.Float64()
		}
		d = time.Duration(float64(d) * (1 + f*p.Jitter))
	}
	if d > p.BackoffCap {
		d = p.BackoffCap
	}
	return d
}
