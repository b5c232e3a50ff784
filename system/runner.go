package system

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/actor"
	"github.com/airsstack/airssys-rt/address"
	"github.com/airsstack/airssys-rt/mailbox"
	"github.com/airsstack/airssys-rt/message"
)

// runner drives one actor instance: it owns the consume loop, applies
// ErrorAction decisions, and finalizes the lifecycle when the loop ends.
type runner[M message.Message] struct {
	sys      *System[M]
	behavior actor.Behavior[M]
	mb       *mailbox.Mailbox[M]
	actorCtx *actor.Context[M]
	life     *actor.Lifecycle
	addr     address.Address

	stopTimeout time.Duration
	escalate    func(address.Address, error)

	done      chan struct{}
	cancel    context.CancelFunc
	finalized *uatomic.Bool
	failed    *uatomic.Bool
	failErr   error
}

// run is the actor's consume loop. Exactly one run goroutine exists per
// instance, which is what serializes Handle calls.
func (r *runner[M]) run(ctx context.Context) {
	defer close(r.done)
	defer r.finalize()

	for {
		env, err := r.mb.Recv(ctx)
		if err != nil {
			// Mailbox closed and drained, or forced cutoff.
			return
		}

		if env.Expired(time.Now()) {
			r.sys.dead.Record(env, ReasonExpired)

			continue
		}

		r.actorCtx.SetCurrentEnvelope(env)

		start := time.Now()
		err = r.handle(ctx, env.Payload)

		handleTime.WithLabelValues(r.sys.cfg.Name).Observe(time.Since(start).Seconds())

		if err == nil {
			r.actorCtx.RecordProcessed()

			continue
		}

		if r.applyErrorAction(ctx, err) {
			return
		}
	}
}

// handle invokes the behavior with panic recovery: a panicking actor is
// an erring actor, not a crashed process.
func (r *runner[M]) handle(ctx context.Context, msg M) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.actorCtx.Logger().Error("actor recovered from panic",
				"panic", rec,
				"stack", string(debug.Stack()))

			if e, ok := rec.(error); ok {
				err = fmt.Errorf("panic in actor: %w", e)
			} else {
				err = fmt.Errorf("panic in actor: %v", rec)
			}
		}
	}()

	return r.behavior.Handle(ctx, r.actorCtx, msg)
}

// applyErrorAction resolves an error from Handle through OnError and acts
// on the decision. Returns true when the loop must exit.
func (r *runner[M]) applyErrorAction(ctx context.Context, err error) bool {
	action := actor.Stop

	if h, ok := r.behavior.(actor.ErrorHandler[M]); ok {
		action = h.OnError(ctx, r.actorCtx, err)
	}

	log := r.actorCtx.Logger()

	switch action {
	case actor.Resume:
		log.Warn("resuming after actor error", "error", err)

		return false

	case actor.Restart:
		log.Warn("restarting actor in place", "error", err)
		actorRestarts.WithLabelValues(r.sys.cfg.Name).Inc()

		if ps, ok := r.behavior.(actor.PreStarter[M]); ok {
			if startErr := ps.PreStart(ctx, r.actorCtx); startErr != nil {
				r.fail(fmt.Errorf("restart failed: %w", startErr))

				return true
			}
		}

		return false

	case actor.Escalate:
		log.Error("escalating actor error", "error", err)
		r.fail(err)

		return true

	case actor.Stop:
		fallthrough
	default:
		log.Error("stopping actor after error", "error", err)

		// Graceful: close the mailbox and keep draining what is
		// already queued; Recv reports closure once empty.
		if st := r.life.State(); st == actor.StateRunning {
			_ = r.life.Transition(actor.StateStopping)
		}

		r.mb.Close()

		return false
	}
}

// fail marks the instance failed and closes the mailbox. The error is
// escalated after finalization so the address is already free when a
// supervisor reacts.
func (r *runner[M]) fail(err error) {
	r.failed.Store(true)
	r.failErr = err

	if st := r.life.State(); st == actor.StateRunning || st == actor.StateStarting {
		_ = r.life.Transition(actor.StateFailed)
	}

	r.mb.Close()
}

// finalize runs the shutdown tail exactly once: PostStop, terminal state,
// unregistration, and (for failures) escalation.
func (r *runner[M]) finalize() {
	if !r.finalized.CompareAndSwap(false, true) {
		return
	}

	log := r.actorCtx.Logger()

	r.mb.Close()

	if ps, ok := r.behavior.(actor.PostStopper[M]); ok {
		// PostStop races a deadline rather than being cut off abruptly.
		stopCtx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)

		if err := ps.PostStop(stopCtx, r.actorCtx); err != nil {
			log.Error("post-stop hook failed", "error", err)
		}

		cancel()
	}

	if r.failed.Load() {
		if st := r.life.State(); !st.Terminal() {
			_ = r.life.Transition(actor.StateFailed)
		}

		actorsFailed.WithLabelValues(r.sys.cfg.Name).Inc()
	} else {
		if st := r.life.State(); st == actor.StateRunning || st == actor.StateStarting {
			_ = r.life.Transition(actor.StateStopping)
		}

		_ = r.life.Transition(actor.StateStopped)
		actorsStopped.WithLabelValues(r.sys.cfg.Name).Inc()
	}

	r.sys.reg.Unregister(r.addr)
	r.sys.removeRunner(r.addr)
	actorsAlive.WithLabelValues(r.sys.cfg.Name).Dec()

	log.Debug("actor finalized", "state", r.life.State().String(), "processed", r.actorCtx.Processed())

	if r.failed.Load() && r.escalate != nil {
		r.escalate(r.addr, r.failErr)
	}
}
