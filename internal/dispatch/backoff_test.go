package dispatch

import (
	"math/rand"
	"testing"
	"time"
)

func TestPolicyDelay_ExponentialBounds(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(1))

	for n := 1; n <= 10; n++ {
		for i := 0; i < 200; i++ {
			d := p.Delay(n, rng)

			raw := p.BackoffBase * (1 << (n - 1))
			if raw > p.BackoffCap {
				raw = p.BackoffCap
			}
			upper := time.Duration(float64(raw) * (1 + p.Jitter))
			if upper > p.BackoffCap {
				upper = p.BackoffCap
			}

			if d < raw {
				t.Fatalf("n=%d: delay %v below lower bound %v", n, d, raw)
			}
			if d > upper {
				t.Fatalf("n=%d: delay %v above upper bound %v", n, d, upper)
			}
		}
	}
}

func TestPolicyDelay_Cap(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(7))

	// 30s·2^9 far exceeds the 30min cap.
	for i := 0; i < 100; i++ {
		if d := p.Delay(10, rng); d > p.BackoffCap {
			t.Fatalf("delay %v exceeds cap %v", d, p.BackoffCap)
		}
	}
}

func TestPolicyDelay_FifthFailureWindow(t *testing.T) {
	t.Parallel()

	// With base 30s: n=5 gives 480s raw, comfortably under the 1800s cap.
	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(99))

	d := p.Delay(5, rng)
	if d < 480*time.Second || d > time.Duration(480*1.2*float64(time.Second)) {
		t.Fatalf("5th failure delay %v outside [480s, 576s]", d)
	}
}

func TestPolicyDelay_NoJitterIsDeterministic(t *testing.T) {
	t.Parallel()

	p := Policy{MaxRetries: 5, BackoffBase: 30 * time.Second, BackoffCap: 30 * time.Minute}
	want := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
	}
	for n := 1; n <= len(want); n++ {
		if d := p.Delay(n, nil); d != want[n-1] {
			t.Fatalf("n=%d: got %v, want %v", n, d, want[n-1])
		}
	}
}

func TestPolicyDelay_ZeroAttemptClamped(t *testing.T) {
	t.Parallel()

	p := Policy{BackoffBase: time.Second, BackoffCap: time.Minute}
	if d := p.Delay(0, nil); d != time.Second {
		t.Fatalf("expected base delay for n=0, got %v", d)
	}
}
