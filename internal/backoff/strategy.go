package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns the wait before the given zero-based retry attempt.
	Delay(attempt int, p Params) time.Duration
}

// Params bounds a backoff computation.
type Params struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Exponential grows the delay by Multiplier per attempt and adds up to
// Jitter*delay of uniform noise, never exceeding Max.
type Exponential struct{}

// Delay implements Strategy.
func (Exponential) Delay(attempt int, p Params) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(p.Initial) * pow(p.Multiplier, attempt))
	if d < 0 || d > p.Max {
		d = p.Max
	}

	if j := clampJitter(p.Jitter); j > 0 {
		d += time.Duration(float64(d) * j * rand.Float64())
		if d > p.Max {
			d = p.Max
		}
	}
	return d
}

// Decorrelated draws the delay uniformly from [Initial, min(Max, Initial*3^attempt)].
type Decorrelated struct{}

// Delay implements Strategy.
func (Decorrelated) Delay(attempt int, p Params) time.Duration {
	if attempt <= 0 {
		return p.Initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Initial)
	upper := base * pow(3, attempt)
	if upper > float64(p.Max) || upper < 0 {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + rand.Float64()*(upper-base))
	if d < 0 || d > p.Max {
		d = p.Max
	}
	return d
}

func clampJitter(j float64) float64 {
	switch {
	case j < 0:
		return 0
	case j > 1:
		return 1
	}
	return j
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
