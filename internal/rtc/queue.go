package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateQueue buffers remote ICE candidates that arrive before the
// remote description has been set (spec C6). Once Drain is called, the
// queue is permanently drained: later candidates are expected to bypass it
// and be applied directly by the caller.
type CandidateQueue struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	drained bool
}

// NewCandidateQueue creates an empty queue.
func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{}
}

// Enqueue buffers a candidate. It is a no-op once the queue has been
// drained — callers should check Drained first and apply directly instead.
func (q *CandidateQueue) Enqueue(c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return
	}
	q.pending = append(q.pending, c)
}

// Drain marks the queue drained and returns every buffered candidate in
// FIFO arrival order. Safe to call more than once; only the first call
// returns a non-empty slice.
func (q *CandidateQueue) Drain() []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	q.drained = true
	return out
}

// Drained reports whether Drain has already been called.
func (q *CandidateQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drained
}
