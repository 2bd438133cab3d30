package queue

import (
	"sync"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// MemQueue is a bounded FIFO ring of WAL-backed envelopes. Entries are
// handed out in append order, which is also WAL id order.
type MemQueue struct {
	mu   sync.Mutex
	ring []ports.QueuedEnvelope
	head int
	size int
	peak int
}

// NewMemQueue allocates the full ring up front; capacity below one is
// raised to one.
func NewMemQueue(capacity int) *MemQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MemQueue{ring: make([]ports.QueuedEnvelope, capacity)}
}

// Enqueue reports false when the ring is full; the caller's policy decides
// whether to wait, drop or reject.
func (q *MemQueue) Enqueue(id ports.WALEntryID, e *domain.Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.ring) {
		return false
	}
	q.ring[(q.head+q.size)%len(q.ring)] = ports.QueuedEnvelope{ID: id, Envelope: e}
	q.size++
	if q.size > q.peak {
		q.peak = q.size
	}
	return true
}

// DequeueBatch removes up to max entries; max <= 0 drains everything.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedEnvelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	n := q.size
	if max > 0 && max < n {
		n = max
	}
	out := make([]ports.QueuedEnvelope, n)
	for i := range out {
		slot := (q.head + i) % len(q.ring)
		out[i] = q.ring[slot]
		q.ring[slot] = ports.QueuedEnvelope{}
	}
	q.head = (q.head + n) % len(q.ring)
	q.size -= n
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap is the fixed capacity of the ring.
func (q *MemQueue) Cap() int { return len(q.ring) }

// Peak is the highest length observed since construction.
func (q *MemQueue) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

var _ ports.EnvelopeQueue = (*MemQueue)(nil)
