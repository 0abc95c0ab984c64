package executor

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffFixed(t *testing.T) {
	p := BackoffPolicy{Strategy: BackoffFixed, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.2}
	rng := rand.New(rand.NewSource(1))
	for retry := 1; retry <= 5; retry++ {
		d := p.Delay(retry, rng)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("retry %d: delay %s outside jitter band around 1s", retry, d)
		}
	}
}

func TestBackoffExponentialDoublesAndCaps(t *testing.T) {
	p := BackoffPolicy{Strategy: BackoffExponential, BaseDelay: time.Second, MaxDelay: 4 * time.Second, Jitter: 0.01}
	rng := rand.New(rand.NewSource(1))

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, w := range want {
		d := p.Delay(i+1, rng)
		lo := time.Duration(float64(w) * 0.99)
		hi := time.Duration(float64(w) * 1.01)
		if d < lo || d > hi {
			t.Fatalf("retry %d: delay %s, want ~%s", i+1, d, w)
		}
		if d > p.MaxDelay {
			t.Fatalf("retry %d: delay %s exceeds cap %s", i+1, d, p.MaxDelay)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	var p BackoffPolicy
	d := p.Delay(1, nil)
	if d != defaultRetryBase {
		t.Fatalf("delay = %s, want base default %s", d, defaultRetryBase)
	}
	d = p.Delay(100, nil)
	if d != defaultRetryMax {
		t.Fatalf("delay = %s, want cap %s", d, defaultRetryMax)
	}
}
