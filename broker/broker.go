// Package broker provides the pub-sub transport between actors. A broker
// fans published envelopes out to every current subscriber and knows
// nothing about actor addressing; routing is the actor system's job. This
// split lets independent subscribers (the router, an audit sink, a metrics
// observer) coexist, and lets the in-memory transport be swapped for a
// distributed one without touching actor or supervisor code.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/airsstack/airssys-rt/message"
)

var (
	// ErrClosed is returned when publishing to or subscribing on a
	// closed broker.
	ErrClosed = errors.New("broker is closed")
	// ErrRequestTimeout is returned when a request sees no correlated
	// reply within its timeout.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrHookAborted wraps a publish hook's refusal to let an envelope
	// through.
	ErrHookAborted = errors.New("publish aborted by hook")
)

// Broker is the transport contract. Publish and PublishRequest are safe
// for concurrent use from any goroutine.
type Broker[M message.Message] interface {
	// Publish broadcasts env to every current subscriber. Publishing
	// with zero subscribers succeeds and the envelope is gone.
	Publish(ctx context.Context, env message.Envelope[M]) error

	// Subscribe registers a new independent consumer. The name is used
	// in logs and metrics only.
	Subscribe(name string, opts ...SubscribeOption) (*Subscription[M], error)

	// PublishRequest publishes env and suspends until a reply envelope
	// correlated with env.ID is published, the timeout elapses
	// (ErrRequestTimeout), or ctx is done.
	PublishRequest(ctx context.Context, env message.Envelope[M], timeout time.Duration) (message.Envelope[M], error)

	// Close cancels all subscriptions and fails pending requests.
	Close() error
}

// SubscribeOption tunes a single subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	replies bool
}

// WithReplies delivers reply envelopes to the subscription even when a
// pending request already consumed them. Routing subscribers should not
// set this: a consumed reply has reached its requester and routing it
// again would only produce dead letters. Audit and metrics observers set
// it to see the full envelope stream.
func WithReplies() SubscribeOption {
	return func(o *subscribeOptions) {
		o.replies = true
	}
}

// PublishHook observes and may veto envelopes at the broker's single choke
// point. BeforePublish runs in installation order prior to fan-out; a
// non-nil error aborts the publish. AfterPublish runs in reverse order
// once fan-out finished.
type PublishHook[M message.Message] interface {
	BeforePublish(ctx context.Context, env *message.Envelope[M]) (context.Context, error)
	AfterPublish(ctx context.Context, env *message.Envelope[M], err error)
}
