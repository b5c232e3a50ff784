package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/message"
)

// InMemory is the in-process Broker implementation. Subscriber fan-out
// holds a read lock only long enough to snapshot the subscriber list;
// delivery itself happens against each subscriber's own queue.
type InMemory[M message.Message] struct {
	mu     sync.RWMutex
	subs   []*Subscription[M]
	closed *uatomic.Bool
	hooks  []PublishHook[M]

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan message.Envelope[M]
}

var _ Broker[message.Message] = (*InMemory[message.Message])(nil)

// InMemoryOption configures an in-memory broker.
type InMemoryOption[M message.Message] func(*InMemory[M])

// WithHook appends a publish hook. Hooks run in installation order before
// fan-out and in reverse order after.
func WithHook[M message.Message](h PublishHook[M]) InMemoryOption[M] {
	return func(b *InMemory[M]) {
		b.hooks = append(b.hooks, h)
	}
}

// NewInMemory creates an in-memory broker.
func NewInMemory[M message.Message](opts ...InMemoryOption[M]) *InMemory[M] {
	b := &InMemory[M]{
		closed:  uatomic.NewBool(false),
		pending: make(map[uuid.UUID]chan message.Envelope[M]),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Publish broadcasts env to every current subscriber. Reply envelopes that
// answer a pending request are consumed by the waiting requester and then
// fanned out only to WithReplies subscribers, so an unrouteable requester
// address never turns into dead-letter noise while observers still see the
// full stream.
func (b *InMemory[M]) Publish(ctx context.Context, env message.Envelope[M]) error {
	if b.closed.Load() {
		return ErrClosed
	}

	var err error

	for i, hook := range b.hooks {
		ctx, err = hook.BeforePublish(ctx, &env)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrHookAborted, err)

			b.afterHooks(ctx, &env, err, i)
			publishErrors.Inc()

			return err
		}
	}

	consumed := b.fulfill(env)
	b.fanOut(env, consumed)

	b.afterHooks(ctx, &env, nil, len(b.hooks))
	published.WithLabelValues(env.Payload.Type()).Inc()

	return nil
}

// Subscribe registers a new independent consumer.
func (b *InMemory[M]) Subscribe(name string, opts ...SubscribeOption) (*Subscription[M], error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub := newSubscription[M](name, b.remove, o.replies)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	subscribers.Inc()

	return sub, nil
}

// PublishRequest publishes env and awaits a reply correlated with env.ID.
func (b *InMemory[M]) PublishRequest(
	ctx context.Context,
	env message.Envelope[M],
	timeout time.Duration,
) (message.Envelope[M], error) {
	var zero message.Envelope[M]

	if b.closed.Load() {
		return zero, ErrClosed
	}

	replyCh := make(chan message.Envelope[M], 1)

	b.pendingMu.Lock()
	b.pending[env.ID] = replyCh
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, env.ID)
		b.pendingMu.Unlock()
	}()

	requests.Inc()

	if err := b.Publish(ctx, env); err != nil {
		return zero, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		requestTimeouts.Inc()

		return zero, ErrRequestTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close shuts the broker down: all subscriptions are canceled and future
// publishes fail. Idempotent.
func (b *InMemory[M]) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
		subscribers.Dec()
	}

	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *InMemory[M]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// fulfill hands a reply envelope to its waiting requester. Returns false
// when env is not a reply or no request is pending for it.
func (b *InMemory[M]) fulfill(env message.Envelope[M]) bool {
	if !env.IsReply() {
		return false
	}

	b.pendingMu.Lock()
	replyCh, ok := b.pending[env.CorrelationID]
	if ok {
		delete(b.pending, env.CorrelationID)
	}
	b.pendingMu.Unlock()

	if !ok {
		return false
	}

	// Buffered; the requester may have timed out already, in which case
	// the reply is discarded with the channel.
	select {
	case replyCh <- env:
	default:
	}

	return true
}

// fanOut delivers env to subscribers. A consumed reply only reaches
// subscriptions that opted in with WithReplies.
func (b *InMemory[M]) fanOut(env message.Envelope[M], consumed bool) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		if consumed && !sub.replies {
			continue
		}

		sub.deliver(env)
	}
}

func (b *InMemory[M]) afterHooks(ctx context.Context, env *message.Envelope[M], err error, ran int) {
	for i := ran - 1; i >= 0; i-- {
		b.hooks[i].AfterPublish(ctx, env, err)
	}
}

func (b *InMemory[M]) remove(sub *Subscription[M]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			subscribers.Dec()

			return
		}
	}
}
