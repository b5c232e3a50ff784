package mailbox

import (
	uatomic "go.uber.org/atomic"
)

// Recorder observes mailbox traffic. Implementations must be safe for
// concurrent use; every method is called on the send/receive path.
type Recorder interface {
	// Enqueued is called once per envelope admitted to the queue.
	Enqueued()
	// Dequeued is called once per envelope handed to the consumer.
	Dequeued()
	// Dropped is called when an incoming envelope is discarded because
	// the queue was full.
	Dropped()
	// Evicted is called when a queued envelope is displaced under
	// DropOldest.
	Evicted()
	// Rejected is called when a send fails because the mailbox closed.
	Rejected()
	// Closed is called once when the mailbox closes.
	Closed()
}

// AtomicRecorder counts mailbox traffic with atomic counters. Useful in
// tests and for embedding mailbox statistics into health reports.
type AtomicRecorder struct {
	enqueued uatomic.Int64
	dequeued uatomic.Int64
	dropped  uatomic.Int64
	evicted  uatomic.Int64
	rejected uatomic.Int64
	closed   uatomic.Bool
}

// NewAtomicRecorder returns a zeroed recorder.
func NewAtomicRecorder() *AtomicRecorder {
	return &AtomicRecorder{}
}

func (r *AtomicRecorder) Enqueued() { r.enqueued.Inc() }
func (r *AtomicRecorder) Dequeued() { r.dequeued.Inc() }
func (r *AtomicRecorder) Dropped()  { r.dropped.Inc() }
func (r *AtomicRecorder) Evicted()  { r.evicted.Inc() }
func (r *AtomicRecorder) Rejected() { r.rejected.Inc() }
func (r *AtomicRecorder) Closed()   { r.closed.Store(true) }

// EnqueuedCount returns the number of envelopes admitted so far.
func (r *AtomicRecorder) EnqueuedCount() int64 { return r.enqueued.Load() }

// DequeuedCount returns the number of envelopes consumed so far.
func (r *AtomicRecorder) DequeuedCount() int64 { return r.dequeued.Load() }

// DroppedCount returns the number of incoming envelopes discarded.
func (r *AtomicRecorder) DroppedCount() int64 { return r.dropped.Load() }

// EvictedCount returns the number of queued envelopes displaced.
func (r *AtomicRecorder) EvictedCount() int64 { return r.evicted.Load() }

// RejectedCount returns the number of sends refused after close.
func (r *AtomicRecorder) RejectedCount() int64 { return r.rejected.Load() }

// WasClosed reports whether the mailbox has closed.
func (r *AtomicRecorder) WasClosed() bool { return r.closed.Load() }

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) Enqueued() {}
func (NopRecorder) Dequeued() {}
func (NopRecorder) Dropped()  {}
func (NopRecorder) Evicted()  {}
func (NopRecorder) Rejected() {}
func (NopRecorder) Closed()   {}
