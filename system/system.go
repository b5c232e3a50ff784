// Package system ties the runtime together: it owns the broker, the
// registry and the dead-letter log, routes published envelopes into
// mailboxes, and runs one consume loop per spawned actor on a shared
// worker pool.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	amperrors "github.com/amp-labs/amp-common/errors"
	"github.com/amp-labs/amp-common/shutdown"
	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/actor"
	"github.com/airsstack/airssys-rt/address"
	"github.com/airsstack/airssys-rt/broker"
	"github.com/airsstack/airssys-rt/mailbox"
	"github.com/airsstack/airssys-rt/message"
	"github.com/airsstack/airssys-rt/registry"
)

// System errors.
var (
	ErrNotStarted     = errors.New("system is not started")
	ErrAlreadyStarted = errors.New("system is already started")
	ErrShuttingDown   = errors.New("system is shutting down")
	ErrActorNotFound  = errors.New("no actor at address")
)

// System hosts actors that exchange envelopes of one message type M.
// All delivery flows through the broker: the system is its only durable
// subscriber, and its router moves envelopes into actor mailboxes.
type System[M message.Message] struct {
	cfg  Config
	log  *slog.Logger
	brk  broker.Broker[M]
	reg  *registry.Registry[M]
	pool pond.Pool
	dead *DeadLetterLog[M]

	// ownBroker records whether Shutdown should close the broker too.
	ownBroker bool

	mu      sync.Mutex
	runners map[address.Address]*runner[M]

	routerSub  *broker.Subscription[M]
	routerDone chan struct{}

	started  *uatomic.Bool
	stopping *uatomic.Bool
}

// Option configures a System.
type Option[M message.Message] func(*System[M])

// WithConfig replaces the default configuration.
func WithConfig[M message.Message](cfg Config) Option[M] {
	return func(s *System[M]) {
		s.cfg = cfg
	}
}

// WithBroker installs an externally owned broker. The system will not
// close it on shutdown.
func WithBroker[M message.Message](b broker.Broker[M]) Option[M] {
	return func(s *System[M]) {
		s.brk = b
		s.ownBroker = false
	}
}

// WithLogger replaces the default slog logger.
func WithLogger[M message.Message](log *slog.Logger) Option[M] {
	return func(s *System[M]) {
		s.log = log
	}
}

// New creates a stopped system. Call Start before spawning actors.
func New[M message.Message](opts ...Option[M]) (*System[M], error) {
	s := &System[M]{
		cfg:       DefaultConfig(),
		log:       slog.Default(),
		reg:       registry.New[M](),
		ownBroker: true,
		runners:   make(map[address.Address]*runner[M]),
		started:   uatomic.NewBool(false),
		stopping:  uatomic.NewBool(false),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("system config: %w", err)
	}

	if s.brk == nil {
		s.brk = broker.NewInMemory[M]()
	}

	s.log = s.log.With("system", s.cfg.Name)
	s.pool = pond.NewPool(s.cfg.Workers)
	s.dead = newDeadLetterLog[M](s.cfg.DeadLetterRetention)

	return s, nil
}

// Start subscribes the router to the broker and begins routing. A
// system starts at most once; a stopped system is not restartable.
func (s *System[M]) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	sub, err := s.brk.Subscribe("system-router")
	if err != nil {
		s.started.Store(false)

		return fmt.Errorf("subscribing router: %w", err)
	}

	s.routerSub = sub
	s.routerDone = make(chan struct{})

	// The router gets a dedicated goroutine so a saturated worker pool
	// can never starve delivery.
	go s.routerLoop()

	shutdown.BeforeShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.Shutdown(ctx); err != nil && !errors.Is(err, ErrShuttingDown) {
			s.log.Error("shutdown hook failed", "error", err)
		}
	})

	s.log.Info("actor system started",
		"mailbox_capacity", s.cfg.MailboxCapacity,
		"overflow", s.cfg.Overflow,
		"workers", s.cfg.Workers)

	return nil
}

// routerLoop is the broker's sole durable consumer. It runs until the
// router subscription is cancelled.
func (s *System[M]) routerLoop() {
	defer close(s.routerDone)

	for env := range s.routerSub.C() {
		s.route(env)
	}
}

// route resolves an envelope's recipient and moves it into the target
// mailbox. Undeliverable envelopes go to the dead-letter log; routing
// never drops an envelope silently.
func (s *System[M]) route(env message.Envelope[M]) {
	if env.Expired(time.Now()) {
		s.dead.Record(env, ReasonExpired)

		return
	}

	snd, ok := s.reg.Resolve(env.Recipient)
	if !ok {
		if key := env.Payload.RoutingKey(); key != "" {
			snd, ok = s.reg.ResolveByRoutingKey(key)
		}
	}

	if !ok {
		s.dead.Record(env, ReasonUnresolved)

		return
	}

	s.deliver(env, snd)
}

// deliver pushes one envelope into a resolved mailbox, bounding how
// long a Block mailbox may hold up the router.
func (s *System[M]) deliver(env message.Envelope[M], snd mailbox.Sender[M]) {
	ctx := context.Background()

	if s.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		defer cancel()
	}

	err := snd.Send(ctx, env)

	switch {
	case err == nil:
		routedEnvelopes.WithLabelValues(s.cfg.Name).Inc()
	case errors.Is(err, mailbox.ErrFull):
		s.dead.Record(env, ReasonMailboxFull)
	case errors.Is(err, mailbox.ErrClosed):
		s.dead.Record(env, ReasonMailboxClosed)
	case errors.Is(err, context.DeadlineExceeded):
		s.dead.Record(env, ReasonDeliveryTimeout)
	default:
		s.log.Error("unexpected delivery failure", "error", err, "recipient", env.Recipient.String())
		s.dead.Record(env, ReasonDeliveryTimeout)
	}
}

// SpawnOption tunes one Spawn call.
type SpawnOption func(*spawnOptions)

type spawnOptions struct {
	addr        address.Address
	hasAddr     bool
	capacity    int
	hasCapacity bool
	unbounded   bool
	overflow    mailbox.OverflowStrategy
	hasOverflow bool
	perPriority bool
	escalate    func(address.Address, error)
	stopTimeout time.Duration
}

// WithAddress spawns the actor at a caller-chosen address instead of a
// fresh anonymous one.
func WithAddress(addr address.Address) SpawnOption {
	return func(o *spawnOptions) {
		o.addr = addr
		o.hasAddr = true
	}
}

// WithMailboxCapacity overrides the system default mailbox capacity.
func WithMailboxCapacity(capacity int) SpawnOption {
	return func(o *spawnOptions) {
		o.capacity = capacity
		o.hasCapacity = true
	}
}

// WithUnbounded gives the actor an unbounded mailbox.
func WithUnbounded() SpawnOption {
	return func(o *spawnOptions) {
		o.unbounded = true
	}
}

// WithOverflow overrides the system default overflow strategy for this
// actor's bounded mailbox.
func WithOverflow(strategy mailbox.OverflowStrategy) SpawnOption {
	return func(o *spawnOptions) {
		o.overflow = strategy
		o.hasOverflow = true
	}
}

// WithPriorityOverflow makes the actor's bounded mailbox pick its
// overflow strategy per envelope from message priority: critical and
// high traffic blocks, normal drops itself, low evicts the oldest.
func WithPriorityOverflow() SpawnOption {
	return func(o *spawnOptions) {
		o.perPriority = true
	}
}

// WithEscalation installs a callback invoked after the actor finalizes
// in the failed state. Supervisors use this to observe child failures.
func WithEscalation(fn func(address.Address, error)) SpawnOption {
	return func(o *spawnOptions) {
		o.escalate = fn
	}
}

// WithStopTimeout bounds this actor's PostStop hook, overriding the
// system shutdown timeout.
func WithStopTimeout(d time.Duration) SpawnOption {
	return func(o *spawnOptions) {
		o.stopTimeout = d
	}
}

// Spawn registers a new actor instance and starts its consume loop.
// The returned address is live: envelopes published to it route into
// the actor's mailbox until it stops.
func (s *System[M]) Spawn(ctx context.Context, behavior actor.Behavior[M], opts ...SpawnOption) (address.Address, error) {
	if !s.started.Load() {
		return address.Address{}, ErrNotStarted
	}

	if s.stopping.Load() {
		return address.Address{}, ErrShuttingDown
	}

	o := spawnOptions{
		capacity:    s.cfg.MailboxCapacity,
		stopTimeout: s.cfg.ShutdownTimeout,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if !o.hasAddr {
		o.addr = address.NewID()
	}

	overflow, err := s.cfg.OverflowStrategy()
	if err != nil {
		return address.Address{}, err
	}

	if o.hasOverflow {
		overflow = o.overflow
	}

	var (
		mb  *mailbox.Mailbox[M]
		snd mailbox.Sender[M]
	)

	if o.unbounded || o.capacity == 0 {
		mb, snd = mailbox.NewUnbounded[M]()
	} else {
		var mbOpts []mailbox.Option
		if o.perPriority {
			mbOpts = append(mbOpts, mailbox.WithPriorityStrategies())
		}

		mb, snd = mailbox.NewBounded[M](o.capacity, overflow, mbOpts...)
	}

	if err := s.reg.Register(o.addr, snd); err != nil {
		mb.Close()

		return address.Address{}, fmt.Errorf("registering actor: %w", err)
	}

	actorCtx := actor.NewContext(o.addr, s.brk, s.log)
	life := actor.NewLifecycle()

	if ps, ok := behavior.(actor.PreStarter[M]); ok {
		if err := ps.PreStart(ctx, actorCtx); err != nil {
			s.reg.Unregister(o.addr)
			mb.Close()
			_ = life.Transition(actor.StateFailed)

			return address.Address{}, fmt.Errorf("pre-start: %w", err)
		}
	}

	if err := life.Transition(actor.StateRunning); err != nil {
		s.reg.Unregister(o.addr)
		mb.Close()

		return address.Address{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	r := &runner[M]{
		sys:         s,
		behavior:    behavior,
		mb:          mb,
		actorCtx:    actorCtx,
		life:        life,
		addr:        o.addr,
		stopTimeout: o.stopTimeout,
		escalate:    o.escalate,
		done:        make(chan struct{}),
		cancel:      cancel,
		finalized:   uatomic.NewBool(false),
		failed:      uatomic.NewBool(false),
	}

	s.mu.Lock()
	s.runners[o.addr] = r
	s.mu.Unlock()

	actorsSpawned.WithLabelValues(s.cfg.Name).Inc()
	actorsAlive.WithLabelValues(s.cfg.Name).Inc()

	if err := s.pool.Go(func() { r.run(runCtx) }); err != nil {
		actorsAlive.WithLabelValues(s.cfg.Name).Dec()
		s.removeRunner(o.addr)
		s.reg.Unregister(o.addr)
		mb.Close()
		cancel()

		return address.Address{}, fmt.Errorf("scheduling actor loop: %w", err)
	}

	s.log.Debug("actor spawned", "address", o.addr.String())

	return o.addr, nil
}

// Send publishes a fire-and-forget envelope addressed to `to`.
func (s *System[M]) Send(ctx context.Context, to address.Address, msg M, opts ...message.EnvelopeOption) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	return s.brk.Publish(ctx, message.NewEnvelope(msg, to, opts...))
}

// Request publishes an envelope and waits for a correlated reply. A zero
// timeout uses the configured request timeout.
func (s *System[M]) Request(
	ctx context.Context,
	to address.Address,
	msg M,
	timeout time.Duration,
	opts ...message.EnvelopeOption,
) (message.Envelope[M], error) {
	if !s.started.Load() {
		return message.Envelope[M]{}, ErrNotStarted
	}

	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}

	return s.brk.PublishRequest(ctx, message.NewEnvelope(msg, to, opts...), timeout)
}

// StopActor gracefully stops the actor at addr: the mailbox closes, the
// backlog drains, PostStop runs. If draining outlasts the shutdown
// timeout the loop is cut off.
func (s *System[M]) StopActor(ctx context.Context, addr address.Address) error {
	s.mu.Lock()
	r, ok := s.runners[addr]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrActorNotFound, addr)
	}

	if st := r.life.State(); st == actor.StateRunning {
		_ = r.life.Transition(actor.StateStopping)
	}

	r.mb.Close()

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.cancel()

		return ctx.Err()
	case <-timer.C:
		s.log.Warn("actor drain exceeded shutdown timeout, cutting off", "address", addr.String())
		r.cancel()
		<-r.done

		return nil
	}
}

// ActorState reports the lifecycle state of the actor at addr.
func (s *System[M]) ActorState(addr address.Address) (actor.State, bool) {
	s.mu.Lock()
	r, ok := s.runners[addr]
	s.mu.Unlock()

	if !ok {
		return actor.StateStopped, false
	}

	return r.life.State(), true
}

// DeadLetters exposes the system's dead-letter log.
func (s *System[M]) DeadLetters() *DeadLetterLog[M] {
	return s.dead
}

// Broker exposes the system's broker, for wiring hooks or external
// subscribers.
func (s *System[M]) Broker() broker.Broker[M] {
	return s.brk
}

// Registry exposes the system's registry, for pool membership and
// inspection.
func (s *System[M]) Registry() *registry.Registry[M] {
	return s.reg
}

// ActorCount reports the number of live actors.
func (s *System[M]) ActorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.runners)
}

// removeRunner drops a finalized runner from the live set.
func (s *System[M]) removeRunner(addr address.Address) {
	s.mu.Lock()
	delete(s.runners, addr)
	s.mu.Unlock()
}

// Shutdown stops every actor, then the router, then the worker pool.
// Safe to call once; later calls report ErrShuttingDown.
func (s *System[M]) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	if !s.stopping.CompareAndSwap(false, true) {
		return ErrShuttingDown
	}

	s.log.Info("actor system shutting down", "actors", s.ActorCount())

	s.mu.Lock()
	addrs := make([]address.Address, 0, len(s.runners))
	for addr := range s.runners {
		addrs = append(addrs, addr)
	}
	s.mu.Unlock()

	var errs amperrors.Collection

	for _, addr := range addrs {
		if err := s.StopActor(ctx, addr); err != nil && !errors.Is(err, ErrActorNotFound) {
			errs.Add(fmt.Errorf("stopping %s: %w", addr, err))
		}
	}

	s.routerSub.Cancel()
	<-s.routerDone

	if s.ownBroker {
		if err := s.brk.Close(); err != nil && !errors.Is(err, broker.ErrClosed) {
			errs.Add(fmt.Errorf("closing broker: %w", err))
		}
	}

	s.pool.StopAndWait()

	s.log.Info("actor system stopped")

	return errs.GetError()
}
