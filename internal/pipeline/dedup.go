// internal/pipeline/dedup.go
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Deduplicator is a bounded recency cache over event identifiers. An id
// remembered once is refused for the whole retention window; a periodic
// sweep purges expired entries so memory is bounded by retention, not
// by event volume.
type Deduplicator struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	sweepEach time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// DedupOption configures a Deduplicator.
type DedupOption func(*Deduplicator)

// WithDedupClock substitutes the time source, used by tests.
func WithDedupClock(now func() time.Time) DedupOption {
	return func(d *Deduplicator) { d.now = now }
}

// NewDeduplicator creates a deduplicator with the given retention
// window. The sweep runs at a quarter of the retention period.
func NewDeduplicator(retention time.Duration, logger *zap.Logger, opts ...DedupOption) *Deduplicator {
	d := &Deduplicator{
		seen:      make(map[string]time.Time),
		retention: retention,
		sweepEach: retention / 4,
		logger:    logger.Named("dedup"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Seen reports whether id was remembered within the retention window.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.seen[id]
	if !ok {
		return false
	}
	if d.now().Sub(at) > d.retention {
		delete(d.seen, id)
		return false
	}
	return true
}

// Remember marks id as processed at the current time.
func (d *Deduplicator) Remember(id string) {
	d.mu.Lock()
	d.seen[id] = d.now()
	d.mu.Unlock()
}

// Len returns the number of remembered identifiers, expired or not.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Run sweeps expired entries until the context is cancelled.
func (d *Deduplicator) Run(ctx context.Context) {
	ticker := time.NewTicker(d.sweepEach)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// Sweep removes entries older than the retention window.
func (d *Deduplicator) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.retention)
	removed := 0
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
			removed++
		}
	}
	if removed > 0 {
		d.logger.Debug("swept expired signatures",
			zap.Int("removed", removed),
			zap.Int("remaining", len(d.seen)))
	}
}
