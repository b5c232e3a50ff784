// Package message defines the typed message contract and the envelope that
// carries a message through the runtime. Message identification is a
// constant string returned by the type itself; the runtime never inspects
// payloads with reflection, and all routing stays statically typed through
// the generic Envelope.
package message

// Priority orders messages relative to each other. Bounded mailboxes use it
// to pick a default overflow strategy; it also travels on every envelope.
type Priority uint8

const (
	// PriorityLow marks background work that may be deferred or dropped.
	PriorityLow Priority = iota
	// PriorityNormal is the default for routine messages.
	PriorityNormal
	// PriorityHigh marks time-sensitive messages.
	PriorityHigh
	// PriorityCritical is reserved for system messages such as shutdown
	// signals and supervisor commands.
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Message is the capability contract for anything sent between actors.
// Implementations must be immutable once constructed; large payloads should
// hold shared references (slices, pointers) so cloning an envelope never
// deep-copies them.
//
// Type must return a constant unique to the concrete type. Embed Base to
// inherit defaults for everything except Type:
//
//	type Deposit struct {
//	    message.Base
//	    Amount int64
//	}
//
//	func (Deposit) Type() string { return "deposit" }
type Message interface {
	// Type identifies the message kind. It must be a constant per
	// concrete type, never computed at runtime.
	Type() string

	// Priority returns the message's ordinal priority.
	Priority() Priority

	// Version is a schema-evolution marker for the message kind.
	Version() int

	// RoutingKey optionally partitions delivery for service addresses.
	// Return "" when unused.
	RoutingKey() string
}

// Base provides default implementations for the optional parts of the
// Message contract: normal priority, version 1, no routing key. Embed it
// and implement only Type.
type Base struct{}

// Priority returns PriorityNormal.
func (Base) Priority() Priority { return PriorityNormal }

// Version returns 1.
func (Base) Version() int { return 1 }

// RoutingKey returns "".
func (Base) RoutingKey() string { return "" }
