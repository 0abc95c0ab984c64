package executor

import (
	"math/rand"
	"time"
)

// Backoff strategies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// BackoffPolicy computes the delay before a retry attempt.
type BackoffPolicy struct {
	// Strategy is BackoffFixed or BackoffExponential. Defaults to
	// exponential.
	Strategy string
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Jitter is the relative spread applied to the delay (0.2 means
	// plus or minus 20 percent).
	Jitter float64
}

const (
	defaultRetryBase = 2 * time.Second
	defaultRetryMax  = time.Minute
	defaultJitter    = 0.2
)

// Delay returns the wait before retry number retry (1-based).
func (p BackoffPolicy) Delay(retry int, rng *rand.Rand) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultRetryBase
	}
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = defaultRetryMax
	}
	j := p.Jitter
	if j <= 0 {
		j = defaultJitter
	}

	d := base
	if p.Strategy != BackoffFixed {
		for i := 1; i < retry; i++ {
			d *= 2
			if d > maxD {
				d = maxD
				break
			}
		}
	}
	if j > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}
