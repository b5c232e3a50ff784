package actor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/address"
	"github.com/airsstack/airssys-rt/broker"
	"github.com/airsstack/airssys-rt/message"
)

// Context is an actor's view of the runtime: its identity, counters, and
// the only way it may talk to other actors. Sends go through the broker;
// actors never write into another actor's mailbox directly.
type Context[M message.Message] struct {
	addr      address.Address
	id        uuid.UUID
	created   time.Time
	processed *uatomic.Uint64
	pub       broker.Broker[M]
	log       *slog.Logger
	current   message.Envelope[M]
}

// NewContext creates the context handed to a behavior's methods. The
// runtime creates one per actor instance at spawn.
func NewContext[M message.Message](addr address.Address, pub broker.Broker[M], log *slog.Logger) *Context[M] {
	if log == nil {
		log = slog.Default()
	}

	return &Context[M]{
		addr:      addr,
		id:        uuid.New(),
		created:   time.Now(),
		processed: uatomic.NewUint64(0),
		pub:       pub,
		log:       log.With("actor", addr.String()),
	}
}

// Address returns the actor's stable address. It survives restarts.
func (c *Context[M]) Address() address.Address {
	return c.addr
}

// ID identifies this instance; a restarted actor gets a new ID.
func (c *Context[M]) ID() uuid.UUID {
	return c.id
}

// CreatedAt returns when this instance was created.
func (c *Context[M]) CreatedAt() time.Time {
	return c.created
}

// Processed returns how many messages this instance handled successfully.
func (c *Context[M]) Processed() uint64 {
	return c.processed.Load()
}

// Logger returns a logger scoped to the actor's address.
func (c *Context[M]) Logger() *slog.Logger {
	return c.log
}

// Send publishes msg to recipient through the broker, recording this actor
// as the sender. It returns once the envelope is accepted by the broker,
// not once it is delivered.
func (c *Context[M]) Send(ctx context.Context, recipient address.Address, msg M, opts ...message.EnvelopeOption) error {
	opts = append(opts, message.WithSender(c.addr))

	return c.pub.Publish(ctx, message.NewEnvelope(msg, recipient, opts...))
}

// Reply publishes msg as the answer to req, correlated with req's ID and
// addressed to its sender.
func (c *Context[M]) Reply(ctx context.Context, req message.Envelope[M], msg M) error {
	return c.pub.Publish(ctx, req.Reply(msg, message.WithSender(c.addr)))
}

// RecordProcessed increments the processed-message counter. The runtime
// calls it exactly once per successful Handle invocation.
func (c *Context[M]) RecordProcessed() {
	c.processed.Inc()
}

// CurrentEnvelope returns the envelope whose payload is being handled.
// Only meaningful inside a Handle call; message processing is serialized,
// so no synchronization is needed.
func (c *Context[M]) CurrentEnvelope() message.Envelope[M] {
	return c.current
}

// SetCurrentEnvelope records the in-flight envelope. The runtime calls it
// before each Handle invocation.
func (c *Context[M]) SetCurrentEnvelope(env message.Envelope[M]) {
	c.current = env
}

// ReplyCurrent answers the envelope currently being handled.
func (c *Context[M]) ReplyCurrent(ctx context.Context, msg M) error {
	return c.Reply(ctx, c.current, msg)
}
