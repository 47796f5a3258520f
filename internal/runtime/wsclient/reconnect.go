package wsclient

import (
	"math/rand/v2"
	"time"
)

// ReconnectPolicy controls how connection loss is retried. The first delay is
// random jitter within InitialJitter so a fleet of restarting clients does not
// stampede the endpoint; later delays use the fixed interval.
type ReconnectPolicy struct {
	// RetryCount bounds attempts. Negative means retry forever.
	RetryCount    int
	Interval      time.Duration
	InitialJitter time.Duration

	rand func() float64
}

// NewReconnectPolicy returns the policy used before the server pushes tuning.
func NewReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		RetryCount:    -1,
		Interval:      2 * time.Minute,
		InitialJitter: 30 * time.Second,
	}
}

// ShouldRetry reports whether attempt (zero-based) may proceed.
func (p *ReconnectPolicy) ShouldRetry(attempt int) bool {
	if p.RetryCount < 0 {
		return true
	}
	return attempt < p.RetryCount
}

// Delay returns how long to wait before the given attempt.
func (p *ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt == 0 && p.InitialJitter > 0 {
		return time.Duration(p.randFloat() * float64(p.InitialJitter))
	}
	if p.Interval < 0 {
		return 0
	}
	return p.Interval
}

func (p *ReconnectPolicy) randFloat() float64 {
	if p.rand != nil {
		return p.rand()
	}
	return rand.Float64()
}
