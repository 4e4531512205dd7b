// internal/pipeline/queue.go
package pipeline

import (
	"sync"

	"go.uber.org/zap"
)

// Queue is a bounded FIFO of validated, deduplicated events. When full,
// Push evicts the oldest entry to make room: a stale pool signal loses
// its edge within seconds, so freshness beats completeness.
type Queue struct {
	mu       sync.Mutex
	buf      []*Event
	head     int
	size     int
	capacity int
	evicted  uint64
	notify   chan struct{}
	logger   *zap.Logger
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		buf:      make([]*Event, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		logger:   logger.Named("queue"),
	}
}

// Push appends ev, evicting the oldest entry when the queue is full.
func (q *Queue) Push(ev *Event) {
	q.mu.Lock()
	if q.size == q.capacity {
		dropped := q.buf[q.head]
		q.head = (q.head + 1) % q.capacity
		q.size--
		q.evicted++
		q.logger.Warn("queue full, evicting oldest event",
			zap.String("evicted_id", dropped.ID),
			zap.Uint64("total_evicted", q.evicted))
	}
	q.buf[(q.head+q.size)%q.capacity] = ev
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// PopBatch removes and returns up to n events in arrival order.
func (q *Queue) PopBatch(n int) []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > q.size {
		n = q.size
	}
	if n <= 0 {
		return nil
	}

	batch := make([]*Event, n)
	for i := 0; i < n; i++ {
		batch[i] = q.buf[q.head]
		q.buf[q.head] = nil
		q.head = (q.head + 1) % q.capacity
	}
	q.size -= n
	return batch
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Evicted returns how many events have been dropped to overflow.
func (q *Queue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Wait returns a channel that receives a value after a Push. It is a
// wake-up hint, not a ticket: a drain loop must still call PopBatch.
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}
