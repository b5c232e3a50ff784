package system

import (
	"context"
	"errors"
	"sync"

	"github.com/airsstack/airssys-rt/actor"
	"github.com/airsstack/airssys-rt/address"
	"github.com/airsstack/airssys-rt/message"
	"github.com/airsstack/airssys-rt/supervisor"
)

// ActorChild adapts an actor to the supervision tree: each (re)start
// spawns a fresh behavior instance from the factory at the same
// address, so the logical actor identity survives restarts.
type ActorChild[M message.Message] struct {
	sys     *System[M]
	addr    address.Address
	factory func() actor.Behavior[M]
	opts    []SpawnOption

	mu        sync.Mutex
	onFailure func(error)
}

// Compile-time checks that supervisors can manage actor children.
var (
	_ supervisor.Child           = (*ActorChild[message.Message])(nil)
	_ supervisor.FailureReporter = (*ActorChild[message.Message])(nil)
	_ supervisor.HealthChecker   = (*ActorChild[message.Message])(nil)
)

// NewActorChild creates a supervisable child for the given behavior
// factory. The spawn options apply on every (re)start; the address is
// fixed for the child's whole life.
func NewActorChild[M message.Message](
	sys *System[M],
	addr address.Address,
	factory func() actor.Behavior[M],
	opts ...SpawnOption,
) *ActorChild[M] {
	return &ActorChild[M]{
		sys:     sys,
		addr:    addr,
		factory: factory,
		opts:    opts,
	}
}

// Address returns the child's fixed address.
func (c *ActorChild[M]) Address() address.Address {
	return c.addr
}

// Start spawns a fresh instance at the child's address.
func (c *ActorChild[M]) Start(ctx context.Context) error {
	opts := make([]SpawnOption, 0, len(c.opts)+2)
	opts = append(opts, c.opts...)
	opts = append(opts, WithAddress(c.addr), WithEscalation(c.escalated))

	_, err := c.sys.Spawn(ctx, c.factory(), opts...)

	return err
}

// Stop gracefully stops the live instance. A child with no live
// instance is already stopped.
func (c *ActorChild[M]) Stop(ctx context.Context) error {
	err := c.sys.StopActor(ctx, c.addr)
	if errors.Is(err, ErrActorNotFound) {
		return nil
	}

	return err
}

// OnFailure installs the supervisor's failure callback.
func (c *ActorChild[M]) OnFailure(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onFailure = fn
}

// HealthCheck reports healthy while an instance is live. A missing
// instance is unhealthy, which lets a monitoring supervisor revive a
// permanent actor that stopped outside its control.
func (c *ActorChild[M]) HealthCheck(_ context.Context) supervisor.Health {
	st, ok := c.sys.ActorState(c.addr)
	if !ok {
		return supervisor.Health{Status: supervisor.StatusUnhealthy, Reason: "no live instance"}
	}

	switch st {
	case actor.StateFailed:
		return supervisor.Health{Status: supervisor.StatusUnhealthy, Reason: "instance failed"}
	case actor.StateStarting, actor.StateRunning, actor.StateStopping, actor.StateStopped:
		fallthrough
	default:
		return supervisor.Health{Status: supervisor.StatusHealthy}
	}
}

// escalated forwards an instance failure to the supervisor. It runs
// asynchronously: the instance's own goroutine reports the failure, and
// a synchronous callback could deadlock against a supervisor that is
// stopping this child at the same moment.
func (c *ActorChild[M]) escalated(_ address.Address, err error) {
	c.mu.Lock()
	fn := c.onFailure
	c.mu.Unlock()

	if fn != nil {
		go fn(err)
	}
}
