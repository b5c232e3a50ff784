package broker

import (
	"github.com/amp-labs/amp-common/channels"
	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/message"
)

// Subscription is one consumer's view of the broker. Each subscription
// owns an unbounded queue between the publisher and the consumer, so a
// lagging consumer never blocks fast publishers or other subscribers.
type Subscription[M message.Message] struct {
	name     string
	in       chan<- message.Envelope[M]
	out      <-chan message.Envelope[M]
	canceled *uatomic.Bool
	onCancel func(*Subscription[M])

	// replies marks an observer that also receives reply envelopes a
	// pending request already consumed.
	replies bool
}

func newSubscription[M message.Message](name string, onCancel func(*Subscription[M]), replies bool) *Subscription[M] {
	in, out, _ := channels.InfiniteChan[message.Envelope[M]]()

	return &Subscription[M]{
		name:     name,
		in:       in,
		out:      out,
		canceled: uatomic.NewBool(false),
		onCancel: onCancel,
		replies:  replies,
	}
}

// Name returns the subscriber name given to Subscribe.
func (s *Subscription[M]) Name() string {
	return s.name
}

// C is the stream of envelopes. It is closed after Cancel once the queue
// drains.
func (s *Subscription[M]) C() <-chan message.Envelope[M] {
	return s.out
}

// Cancel detaches the subscription from the broker. Already-queued
// envelopes remain readable from C until it closes. Safe to call more than
// once.
func (s *Subscription[M]) Cancel() {
	if !s.canceled.CompareAndSwap(false, true) {
		return
	}

	if s.onCancel != nil {
		s.onCancel(s)
	}

	channels.CloseChannelIgnorePanic(s.in)
}

// deliver enqueues env, dropping it silently if the subscription was
// canceled mid-flight.
func (s *Subscription[M]) deliver(env message.Envelope[M]) {
	if s.canceled.Load() {
		return
	}

	defer func() {
		// Cancel may close the inbound channel between the check above
		// and the send; the envelope is simply lost to this subscriber.
		_ = recover()
	}()

	s.in <- env
}
