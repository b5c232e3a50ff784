package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/airsstack/airssys-rt/address"
)

// Envelope wraps a payload with routing and correlation metadata. An
// envelope is created once per send, travels by value, and is consumed
// exactly once by the routing path; nothing mutates it after construction.
type Envelope[M Message] struct {
	// ID uniquely identifies this envelope. Assigned at construction.
	ID uuid.UUID

	// Sender optionally identifies the sending actor. The zero address
	// means the sender is anonymous (e.g. an external caller).
	Sender address.Address

	// Recipient is the target address resolved by the registry.
	Recipient address.Address

	// Payload is the typed message.
	Payload M

	// Timestamp records when the envelope was created.
	Timestamp time.Time

	// CorrelationID links a reply to the request envelope it answers.
	// uuid.Nil when the envelope is not a reply.
	CorrelationID uuid.UUID

	// TTL bounds how long the envelope may sit undelivered. Zero means
	// no expiry. Expired envelopes become dead letters, not deliveries.
	TTL time.Duration

	// Priority is copied from the payload at construction so the
	// transport never has to touch the payload to order or admit it.
	Priority Priority
}

// EnvelopeOption customizes envelope construction.
type EnvelopeOption func(*envelopeOptions)

type envelopeOptions struct {
	sender        address.Address
	correlationID uuid.UUID
	ttl           time.Duration
	priority      *Priority
}

// WithSender records the sending actor's address on the envelope.
func WithSender(sender address.Address) EnvelopeOption {
	return func(o *envelopeOptions) {
		o.sender = sender
	}
}

// WithCorrelation marks the envelope as a reply to the given envelope ID.
func WithCorrelation(id uuid.UUID) EnvelopeOption {
	return func(o *envelopeOptions) {
		o.correlationID = id
	}
}

// WithTTL bounds how long the envelope may remain undelivered.
func WithTTL(ttl time.Duration) EnvelopeOption {
	return func(o *envelopeOptions) {
		o.ttl = ttl
	}
}

// WithPriority overrides the priority inherited from the payload.
func WithPriority(p Priority) EnvelopeOption {
	return func(o *envelopeOptions) {
		o.priority = &p
	}
}

// NewEnvelope wraps payload for delivery to recipient, assigning a fresh
// unique ID and the current timestamp.
func NewEnvelope[M Message](payload M, recipient address.Address, opts ...EnvelopeOption) Envelope[M] {
	var options envelopeOptions

	for _, opt := range opts {
		opt(&options)
	}

	priority := payload.Priority()
	if options.priority != nil {
		priority = *options.priority
	}

	return Envelope[M]{
		ID:            uuid.New(),
		Sender:        options.sender,
		Recipient:     recipient,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: options.correlationID,
		TTL:           options.ttl,
		Priority:      priority,
	}
}

// Reply builds an envelope answering e, addressed to e's sender and
// correlated with e's ID. The caller must ensure e has a sender.
func (e Envelope[M]) Reply(payload M, opts ...EnvelopeOption) Envelope[M] {
	opts = append(opts, WithCorrelation(e.ID))

	return NewEnvelope(payload, e.Sender, opts...)
}

// IsReply reports whether the envelope answers a request.
func (e Envelope[M]) IsReply() bool {
	return e.CorrelationID != uuid.Nil
}

// HasSender reports whether the envelope records a sending actor.
func (e Envelope[M]) HasSender() bool {
	return !e.Sender.IsZero()
}

// Expired reports whether the envelope's TTL has elapsed as of now.
func (e Envelope[M]) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}

	return now.After(e.Timestamp.Add(e.TTL))
}
