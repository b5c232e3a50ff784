// Package actor defines the contract user code implements to participate
// in the runtime. A Behavior handles one statically-typed message kind;
// optional interfaces add lifecycle hooks and error-recovery decisions.
// There is no dynamic dispatch over message types: the behavior, its
// context and every envelope it sees are generic over the same M.
package actor

import (
	"context"

	"github.com/airsstack/airssys-rt/message"
)

// Behavior processes messages for one actor. Handle is invoked strictly
// serially: the runtime never runs two Handle calls for the same actor
// instance concurrently, so behavior state needs no locking.
type Behavior[M message.Message] interface {
	// Handle processes one message. Returning an error surfaces it to
	// OnError (when implemented) and otherwise stops the actor.
	Handle(ctx context.Context, actorCtx *Context[M], msg M) error
}

// PreStarter runs once before the actor's first message. A failure here
// prevents the actor from starting at all.
type PreStarter[M message.Message] interface {
	PreStart(ctx context.Context, actorCtx *Context[M]) error
}

// PostStopper runs once during shutdown after the last message. It is
// best-effort: failures are logged, never retried.
type PostStopper[M message.Message] interface {
	PostStop(ctx context.Context, actorCtx *Context[M]) error
}

// ErrorHandler decides the supervision outcome for an error returned by
// Handle. Behaviors that do not implement it default to Stop.
type ErrorHandler[M message.Message] interface {
	OnError(ctx context.Context, actorCtx *Context[M], err error) ErrorAction
}

// ErrorAction is the decision returned by OnError.
type ErrorAction uint8

const (
	// Resume continues processing, ignoring the error.
	Resume ErrorAction = iota
	// Restart re-runs PreStart and continues with the same mailbox.
	Restart
	// Stop shuts the actor down gracefully.
	Stop
	// Escalate marks the actor failed and propagates the error to its
	// supervisor.
	Escalate
)

// String returns the action name.
func (a ErrorAction) String() string {
	switch a {
	case Resume:
		return "resume"
	case Restart:
		return "restart"
	case Stop:
		return "stop"
	case Escalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// HandlerFunc adapts a plain function to a Behavior.
type HandlerFunc[M message.Message] func(ctx context.Context, actorCtx *Context[M], msg M) error

// Handle calls the function.
func (f HandlerFunc[M]) Handle(ctx context.Context, actorCtx *Context[M], msg M) error {
	return f(ctx, actorCtx, msg)
}
