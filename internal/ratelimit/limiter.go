// internal/ratelimit/limiter.go
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

// Resource keys for the outbound calls the pipeline makes. Each key
// gets its own window so a noisy consumer cannot starve the others.
const (
	ResourceSubscription = "subscription"
	ResourceQuote        = "quote"
	ResourceSafety       = "safety"
)

// Window describes the ceiling for one resource: at most Ceiling
// acquisitions per Length.
type Window struct {
	Ceiling int
	Length  time.Duration
}

type counter struct {
	windowStart time.Time
	count       int
}

// Limiter is a fixed-window rate limiter shared by all outbound call
// sites. A refused acquisition leaves the counter untouched, so the
// caller is never charged for a call it did not make.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]Window
	counters map[string]*counter
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock substitutes the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMetrics counts refused acquisitions per resource on the
// collector.
func WithMetrics(mc *metrics.Collector) Option {
	return func(l *Limiter) { l.metrics = mc }
}

// New creates a limiter from per-resource window definitions. Resources
// without a definition are unlimited.
func New(windows map[string]Window, logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		windows:  windows,
		counters: make(map[string]*counter, len(windows)),
		logger:   logger.Named("ratelimit"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire reports whether one more call against resource fits in the
// current window and charges it if so.
func (l *Limiter) TryAcquire(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, limited := l.windows[resource]
	if !limited {
		return true
	}

	now := l.now()
	c, ok := l.counters[resource]
	if !ok {
		c = &counter{windowStart: now}
		l.counters[resource] = c
	}

	if now.Sub(c.windowStart) > w.Length {
		c.windowStart = now
		c.count = 0
	}

	if c.count >= w.Ceiling {
		if l.metrics != nil {
			l.metrics.RateLimitDeferrals.WithLabelValues(resource).Inc()
		}
		// Expected under load, so keep it quiet.
		l.logger.Debug("rate limit deferred",
			zap.String("resource", resource),
			zap.Int("ceiling", w.Ceiling),
			zap.Duration("window", w.Length))
		return false
	}

	c.count++
	return true
}

// RetryAfter returns how long the caller should wait before the window
// for resource resets. Zero means the resource is not limited or the
// window is already open.
func (l *Limiter) RetryAfter(resource string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, limited := l.windows[resource]
	if !limited {
		return 0
	}
	c, ok := l.counters[resource]
	if !ok || c.count < w.Ceiling {
		return 0
	}

	remaining := w.Length - l.now().Sub(c.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Acquire blocks until the resource window admits a call or the done
// channel closes first. It returns false in the latter case.
func (l *Limiter) Acquire(done <-chan struct{}, resource string) bool {
	for {
		if l.TryAcquire(resource) {
			return true
		}
		wait := l.RetryAfter(resource)
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-done:
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
