// Package ratelimit bounds outbound request rate with a sliding one minute
// window and tracks consecutive-failure backoff for the whole process.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/clock"
	"github.com/JakeFAU/preprint-crawler/internal/clock/system"
	"github.com/JakeFAU/preprint-crawler/internal/metrics"
)

// Window is the accounting period of the limiter.
const Window = time.Minute

// slack is added to computed waits so the oldest hit has left the window
// when the caller wakes up.
const slack = 50 * time.Millisecond

// Config holds rate limiter configuration.
type Config struct {
	MaxRequestsPerMinute int
	Burst                int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
}

// Limiter is safe for concurrent use by every worker of a run.
type Limiter struct {
	cfg      Config
	capacity int
	clock    clock.ClockSleeper
	jitter   func() float64
	logger   *zap.Logger

	mu       sync.Mutex
	hits     []time.Time
	failures int

	// admitted, when set, observes every admission under the lock.
	admitted func(time.Time)
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock injects the time source used for windows and sleeps.
func WithClock(c clock.ClockSleeper) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithJitterSource overrides the uniform [0,1) draw used for jitter.
func WithJitterSource(f func() float64) Option {
	return func(l *Limiter) { l.jitter = f }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 1
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	l := &Limiter{
		cfg:      cfg,
		capacity: max(cfg.MaxRequestsPerMinute, cfg.Burst),
		clock:    system.New(),
		jitter:   rand.Float64,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.hits = make([]time.Time, 0, l.capacity)
	return l
}

// Capacity is the maximum number of admissions in any window.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Acquire blocks until one more request fits in the window.
func (l *Limiter) Acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		wait, ok := l.tryAdmit()
		if ok {
			if waited > 0 {
				metrics.ObserveRateLimitWait(waited)
			}
			return nil
		}
		l.logger.Debug("rate limit window full", zap.Duration("wait", wait))
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		waited += wait
	}
}

func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.evict(now)
	if len(l.hits) < l.capacity {
		l.hits = append(l.hits, now)
		if l.admitted != nil {
			l.admitted(now)
		}
		return 0, true
	}
	return l.hits[0].Add(Window).Sub(now) + slack, false
}

// evict drops hits that left the window. Callers hold mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-Window)
	n := 0
	for n < len(l.hits) && !l.hits[n].After(cutoff) {
		n++
	}
	if n > 0 {
		l.hits = append(l.hits[:0], l.hits[n:]...)
	}
}

// RecordFailure bumps the consecutive-failure counter and sleeps the
// resulting backoff plus jitter. It returns the time slept.
func (l *Limiter) RecordFailure(ctx context.Context) (time.Duration, error) {
	l.mu.Lock()
	l.failures++
	attempt := l.failures
	l.mu.Unlock()

	base := Backoff(attempt, l.cfg.BackoffInitial, l.cfg.BackoffMax)
	wait := base + Jitter(base, l.jitter())
	l.logger.Debug("backing off after failure",
		zap.Int("consecutive_failures", attempt),
		zap.Duration("wait", wait),
	)
	if err := l.clock.Sleep(ctx, wait); err != nil {
		return 0, fmt.Errorf("failure backoff: %w", err)
	}
	return wait, nil
}

// RecordSuccess resets the consecutive-failure counter.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
}

// Failures returns the consecutive-failure count.
func (l *Limiter) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// NextBackoff returns the unjittered wait the next failure would cause.
func (l *Limiter) NextBackoff() time.Duration {
	return Backoff(l.Failures()+1, l.cfg.BackoffInitial, l.cfg.BackoffMax)
}
