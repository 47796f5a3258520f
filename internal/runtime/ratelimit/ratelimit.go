// Package ratelimit implements the adaptive per-endpoint limiter for
// outbound API calls. Each "METHOD:path" key owns a token bucket whose rate
// grows multiplicatively on success and halves on throttle responses, so the
// client converges on whatever rate the platform currently tolerates.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Default tuning values.
const (
	DefaultBaseQPS        = 5.0
	DefaultMinQPS         = 1.0
	DefaultMaxQPS         = 50.0
	DefaultIncreaseFactor = 1.05
	DefaultDecreaseFactor = 0.5
	DefaultCooldown       = time.Second
	DefaultMaxWait        = 30 * time.Second
)

// Tuning holds the limiter knobs. Zero values fall back to the defaults.
type Tuning struct {
	BaseQPS        float64
	MinQPS         float64
	MaxQPS         float64
	IncreaseFactor float64
	DecreaseFactor float64
	Cooldown       time.Duration
	MaxWait        time.Duration
}

// DefaultTuning returns the default limiter knobs.
func DefaultTuning() Tuning {
	return Tuning{
		BaseQPS:        DefaultBaseQPS,
		MinQPS:         DefaultMinQPS,
		MaxQPS:         DefaultMaxQPS,
		IncreaseFactor: DefaultIncreaseFactor,
		DecreaseFactor: DefaultDecreaseFactor,
		Cooldown:       DefaultCooldown,
		MaxWait:        DefaultMaxWait,
	}
}

func (t Tuning) withDefaults() Tuning {
	if t.BaseQPS <= 0 {
		t.BaseQPS = DefaultBaseQPS
	}
	if t.MinQPS <= 0 {
		t.MinQPS = DefaultMinQPS
	}
	if t.MaxQPS <= 0 {
		t.MaxQPS = DefaultMaxQPS
	}
	if t.IncreaseFactor <= 1 {
		t.IncreaseFactor = DefaultIncreaseFactor
	}
	if t.DecreaseFactor <= 0 || t.DecreaseFactor >= 1 {
		t.DecreaseFactor = DefaultDecreaseFactor
	}
	if t.Cooldown <= 0 {
		t.Cooldown = DefaultCooldown
	}
	if t.MaxWait <= 0 {
		t.MaxWait = DefaultMaxWait
	}
	return t
}

// Key builds the bucket key for an endpoint.
func Key(method, path string) string {
	return strings.ToUpper(method) + ":" + path
}

type bucket struct {
	rate          float64
	tokens        float64
	lastRefill    time.Time
	cooldownUntil time.Time
}

// Limiter is the adaptive per-key limiter. Buckets are created lazily and
// never deleted; key cardinality is bounded by the number of distinct
// endpoints called.
type Limiter struct {
	tuning Tuning

	mu      sync.Mutex
	buckets map[string]*bucket

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Limiter with the given tuning.
func New(tuning Tuning) *Limiter {
	return &Limiter{
		tuning:  tuning.withDefaults(),
		buckets: map[string]*bucket{},
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Acquire blocks until a token for key is available or ctx is cancelled.
// Individual waits are capped at the tuning's MaxWait; the overall call can
// span multiple waits.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wait time.Duration
		l.mu.Lock()
		now := l.now()
		st := l.state(key, now)
		l.refill(st, now)
		switch {
		case now.Before(st.cooldownUntil):
			wait = st.cooldownUntil.Sub(now)
		case st.tokens >= 1:
			st.tokens--
			l.mu.Unlock()
			return nil
		default:
			deficit := (1 - st.tokens) / maxFloat(st.rate, l.tuning.MinQPS)
			wait = time.Duration(deficit * float64(time.Second))
		}
		l.mu.Unlock()

		if wait > l.tuning.MaxWait {
			wait = l.tuning.MaxWait
		}
		if wait < 0 {
			wait = 0
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// OnSuccess raises the key's rate by the increase factor, capped at MaxQPS,
// and nudges the token count upward.
func (l *Limiter) OnSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(key, now)
	l.refill(st, now)
	st.rate = minFloat(l.tuning.MaxQPS, st.rate*l.tuning.IncreaseFactor)
	st.tokens = minFloat(st.tokens+0.5, st.rate)
}

// OnThrottled halves the key's rate (floored at MinQPS), zeroes its tokens
// and extends the cooldown deadline to now plus the larger of retryAfter and
// the configured cooldown.
func (l *Limiter) OnThrottled(key string, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(key, now)
	l.refill(st, now)
	st.rate = maxFloat(l.tuning.MinQPS, st.rate*l.tuning.DecreaseFactor)

	cooldown := l.tuning.Cooldown
	if retryAfter > cooldown {
		cooldown = retryAfter
	}
	if deadline := now.Add(cooldown); deadline.After(st.cooldownUntil) {
		st.cooldownUntil = deadline
	}
	st.tokens = minFloat(st.tokens, 0)
}

// Rate reports the current rate for key, or the base rate for an unused key.
func (l *Limiter) Rate(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.buckets[key]; ok {
		return st.rate
	}
	return l.baseRate()
}

func (l *Limiter) state(key string, now time.Time) *bucket {
	if st, ok := l.buckets[key]; ok {
		return st
	}
	base := l.baseRate()
	st := &bucket{rate: base, tokens: base, lastRefill: now}
	l.buckets[key] = st
	return st
}

func (l *Limiter) baseRate() float64 {
	return minFloat(maxFloat(l.tuning.BaseQPS, l.tuning.MinQPS), l.tuning.MaxQPS)
}

func (l *Limiter) refill(st *bucket, now time.Time) {
	elapsed := now.Sub(st.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	st.tokens = minFloat(st.rate, st.tokens+elapsed*st.rate)
	st.lastRefill = now
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
