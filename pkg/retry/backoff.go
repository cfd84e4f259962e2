package retry

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed). Retry 1 is
	// the first retry after the initial failure.
	Delay(n int) time.Duration
}

// Exponential doubles the delay on every retry, without jitter.
// Delay = min(Initial * 2^(n-1), Max). A zero Max leaves the delay uncapped.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(n-1), capped at Max.
func (e *Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	f := float64(e.Initial) * math.Pow(2, float64(n-1))
	if e.Max > 0 && f > float64(e.Max) {
		return e.Max
	}
	if f >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(_ int) time.Duration {
	return c.Interval
}
