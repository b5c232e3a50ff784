// Package mailbox implements the per-actor inbound queue. A mailbox has
// exactly one consumer (the owning actor's run loop) and any number of
// producers holding Sender handles. Bounded mailboxes apply an overflow
// strategy when full; unbounded mailboxes always accept and leave memory
// growth to the caller.
package mailbox

import (
	"context"
	"errors"

	"github.com/amp-labs/amp-common/channels"
	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/message"
)

var (
	// ErrFull is returned when a bounded mailbox rejects a message under
	// a non-blocking overflow strategy.
	ErrFull = errors.New("mailbox is full")
	// ErrClosed is returned when sending to or receiving from a mailbox
	// whose owning actor has stopped.
	ErrClosed = errors.New("mailbox is closed")
)

// OverflowStrategy decides what happens when a bounded mailbox is at
// capacity and another message arrives.
type OverflowStrategy uint8

const (
	// Block suspends the sender until space is available or the mailbox
	// closes.
	Block OverflowStrategy = iota
	// DropNewest rejects the incoming message, reporting ErrFull.
	DropNewest
	// DropOldest evicts the oldest queued message to admit the new one.
	DropOldest
)

// String returns the strategy name.
func (s OverflowStrategy) String() string {
	switch s {
	case Block:
		return "block"
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// StrategyForPriority picks a default overflow strategy for a message
// priority: critical and high traffic must not be lost, normal traffic
// keeps arrival order, low traffic may displace stale backlog.
func StrategyForPriority(p message.Priority) OverflowStrategy {
	switch p {
	case message.PriorityCritical, message.PriorityHigh:
		return Block
	case message.PriorityLow:
		return DropOldest
	default:
		return DropNewest
	}
}

// Mailbox is the consumer side of an actor's queue. Only the owning actor
// may call Recv/TryRecv; Close is safe from anywhere.
type Mailbox[M message.Message] struct {
	sendCh   chan<- message.Envelope[M]
	recvCh   <-chan message.Envelope[M]
	bounded  chan message.Envelope[M] // nil for unbounded mailboxes
	capacity int
	strategy OverflowStrategy
	done     chan struct{}
	closed   *uatomic.Bool
	size     *uatomic.Int64
	rec      Recorder

	// perPriority selects the overflow strategy per envelope via
	// StrategyForPriority instead of the fixed configured one.
	perPriority bool
}

// Option customizes mailbox construction.
type Option func(*options)

type options struct {
	rec         Recorder
	perPriority bool
}

// WithRecorder installs a metrics recorder. The default records to the
// package's Prometheus metrics.
func WithRecorder(rec Recorder) Option {
	return func(o *options) {
		o.rec = rec
	}
}

// WithPriorityStrategies makes a bounded mailbox pick its overflow
// strategy per envelope from the envelope's priority: critical and high
// traffic blocks, normal drops itself, low evicts the oldest.
func WithPriorityStrategies() Option {
	return func(o *options) {
		o.perPriority = true
	}
}

func buildOptions(opts []Option) options {
	o := options{rec: promRecorder{}}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// NewUnbounded creates a mailbox that always accepts. Returns the mailbox
// and the producer handle; the handle may be copied freely.
func NewUnbounded[M message.Message](opts ...Option) (*Mailbox[M], Sender[M]) {
	o := buildOptions(opts)

	in, out, _ := channels.InfiniteChan[message.Envelope[M]]()

	mb := &Mailbox[M]{
		sendCh: in,
		recvCh: out,
		done:   make(chan struct{}),
		closed: uatomic.NewBool(false),
		size:   uatomic.NewInt64(0),
		rec:    o.rec,
	}

	return mb, Sender[M]{mb: mb}
}

// NewBounded creates a mailbox holding at most capacity envelopes, applying
// strategy when full. Capacity must be positive.
func NewBounded[M message.Message](capacity int, strategy OverflowStrategy, opts ...Option) (*Mailbox[M], Sender[M]) {
	if capacity <= 0 {
		capacity = 1
	}

	o := buildOptions(opts)

	ch := make(chan message.Envelope[M], capacity)

	mb := &Mailbox[M]{
		sendCh:      ch,
		recvCh:      ch,
		bounded:     ch,
		capacity:    capacity,
		strategy:    strategy,
		done:        make(chan struct{}),
		closed:      uatomic.NewBool(false),
		size:        uatomic.NewInt64(0),
		rec:         o.rec,
		perPriority: o.perPriority,
	}

	return mb, Sender[M]{mb: mb}
}

// Recv returns the next envelope, suspending until one arrives, the mailbox
// closes (ErrClosed after the queue drains), or ctx is done.
func (m *Mailbox[M]) Recv(ctx context.Context) (message.Envelope[M], error) {
	var zero message.Envelope[M]

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case env, ok := <-m.recvCh:
		if !ok {
			return zero, ErrClosed
		}

		m.size.Dec()
		m.rec.Dequeued()

		return env, nil
	}
}

// TryRecv returns the next envelope without suspending. The second result
// is false when the mailbox is currently empty.
func (m *Mailbox[M]) TryRecv() (message.Envelope[M], bool) {
	var zero message.Envelope[M]

	select {
	case env, ok := <-m.recvCh:
		if !ok {
			return zero, false
		}

		m.size.Dec()
		m.rec.Dequeued()

		return env, true
	default:
		return zero, false
	}
}

// Close stops the mailbox. Pending envelopes remain receivable until the
// queue drains; subsequent sends fail with ErrClosed. Safe to call more
// than once.
func (m *Mailbox[M]) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	close(m.done)
	channels.CloseChannelIgnorePanic(m.sendCh)
	m.rec.Closed()
}

// Len returns the number of queued envelopes. For unbounded mailboxes the
// value is approximate under concurrent sends.
func (m *Mailbox[M]) Len() int {
	if m.bounded != nil {
		return len(m.bounded)
	}

	n := m.size.Load()
	if n < 0 {
		return 0
	}

	return int(n)
}

// Cap returns the capacity of a bounded mailbox, or 0 for unbounded.
func (m *Mailbox[M]) Cap() int {
	return m.capacity
}

// Closed reports whether Close has been called.
func (m *Mailbox[M]) Closed() bool {
	return m.closed.Load()
}

// Sender is the producer handle to a mailbox. It is a small value that may
// be copied and shared across goroutines; every copy refers to the same
// queue.
type Sender[M message.Message] struct {
	mb *Mailbox[M]
}

// Send enqueues env, applying the mailbox's overflow strategy when the
// queue is full. Under Block it suspends until space frees up, ctx is done,
// or the mailbox closes. Returns ErrClosed once the owning actor stopped.
func (s Sender[M]) Send(ctx context.Context, env message.Envelope[M]) (err error) {
	mb := s.mb

	if mb.closed.Load() {
		mb.rec.Rejected()

		return ErrClosed
	}

	// A concurrent Close can slip between the check above and the channel
	// send; the resulting panic on the closed channel is converted back
	// into ErrClosed here.
	defer func() {
		if recover() != nil {
			mb.rec.Rejected()
			err = ErrClosed
		}
	}()

	if mb.bounded == nil {
		return s.sendUnbounded(ctx, env)
	}

	strategy := mb.strategy
	if mb.perPriority {
		strategy = StrategyForPriority(env.Priority)
	}

	switch strategy {
	case Block:
		select {
		case mb.sendCh <- env:
			mb.size.Inc()
			mb.rec.Enqueued()

			return nil
		case <-mb.done:
			mb.rec.Rejected()

			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	case DropOldest:
		return s.sendDropOldest(env)
	case DropNewest:
		fallthrough
	default:
		select {
		case mb.sendCh <- env:
			mb.size.Inc()
			mb.rec.Enqueued()

			return nil
		default:
			mb.rec.Dropped()

			return ErrFull
		}
	}
}

// TrySend enqueues env without ever suspending, regardless of the
// configured strategy. Full bounded mailboxes report ErrFull.
func (s Sender[M]) TrySend(env message.Envelope[M]) (err error) {
	mb := s.mb

	if mb.closed.Load() {
		mb.rec.Rejected()

		return ErrClosed
	}

	defer func() {
		if recover() != nil {
			mb.rec.Rejected()
			err = ErrClosed
		}
	}()

	if mb.bounded == nil {
		return s.sendUnbounded(context.Background(), env)
	}

	select {
	case mb.sendCh <- env:
		mb.size.Inc()
		mb.rec.Enqueued()

		return nil
	default:
		mb.rec.Dropped()

		return ErrFull
	}
}

// Closed reports whether the mailbox behind this handle has been closed.
func (s Sender[M]) Closed() bool {
	return s.mb.closed.Load()
}

// sendUnbounded hands the envelope to the buffering goroutine. The inner
// channel is unbuffered but its consumer only ever appends to a queue, so
// this settles quickly.
func (s Sender[M]) sendUnbounded(ctx context.Context, env message.Envelope[M]) error {
	mb := s.mb

	select {
	case mb.sendCh <- env:
		mb.size.Inc()
		mb.rec.Enqueued()

		return nil
	case <-mb.done:
		mb.rec.Rejected()

		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendDropOldest evicts at most one queued envelope to admit the new one.
// Eviction races with the consumer; if the consumer wins, the queue has
// room anyway.
func (s Sender[M]) sendDropOldest(env message.Envelope[M]) error {
	mb := s.mb

	select {
	case mb.sendCh <- env:
		mb.size.Inc()
		mb.rec.Enqueued()

		return nil
	default:
	}

	select {
	case <-mb.bounded:
		mb.size.Dec()
		mb.rec.Evicted()
	default:
	}

	select {
	case mb.sendCh <- env:
		mb.size.Inc()
		mb.rec.Enqueued()

		return nil
	default:
		mb.rec.Dropped()

		return ErrFull
	}
}
