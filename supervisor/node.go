package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amperrors "github.com/amp-labs/amp-common/errors"
	"github.com/amp-labs/amp-common/retry"
)

// Supervision errors.
var (
	ErrDuplicateChild  = errors.New("duplicate child id")
	ErrNilChild        = errors.New("child must not be nil")
	ErrNotStarted      = errors.New("supervisor is not started")
	ErrAlreadyStarted  = errors.New("supervisor is already started")
	ErrBudgetExhausted = errors.New("restart budget exhausted")
	ErrChildUnhealthy  = errors.New("health probe reported unhealthy")
)

const (
	defaultMaxRestarts   = 3
	defaultRestartWindow = 5 * time.Second
)

type childHandle struct {
	spec   Spec
	active bool

	// restarts holds this child's restart timestamps inside the sliding
	// window. The budget is per child: one flapping child exhausts its
	// own allowance, never its siblings'.
	restarts []time.Time
}

// Node supervises an ordered set of children. It is itself a Child and
// a FailureReporter, so nodes nest into trees: a child node escalates
// to its parent when its restart budget runs out or a significant child
// is gone for good.
type Node struct {
	name          string
	strategy      Strategy
	maxRestarts   int
	window        time.Duration
	probeInterval time.Duration
	probeTimeout  time.Duration
	log           *slog.Logger

	mu       sync.Mutex
	children []*childHandle
	byID     map[string]*childHandle
	started  bool
	stopping bool
	failed   bool

	onFailure func(error)

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithMaxRestarts sets the restart budget: more than max restarts
// within the window shuts the supervisor down.
func WithMaxRestarts(max int, window time.Duration) NodeOption {
	return func(n *Node) {
		n.maxRestarts = max
		n.window = window
	}
}

// WithNodeLogger replaces the default slog logger.
func WithNodeLogger(log *slog.Logger) NodeOption {
	return func(n *Node) {
		n.log = log
	}
}

// WithHealthMonitor enables periodic health probes of children that
// implement HealthChecker. An unhealthy probe is treated like a failure
// report for that child.
func WithHealthMonitor(interval, probeTimeout time.Duration) NodeOption {
	return func(n *Node) {
		n.probeInterval = interval
		n.probeTimeout = probeTimeout
	}
}

// NewNode creates a stopped supervisor node.
func NewNode(name string, strategy Strategy, opts ...NodeOption) *Node {
	n := &Node{
		name:        name,
		strategy:    strategy,
		maxRestarts: defaultMaxRestarts,
		window:      defaultRestartWindow,
		log:         slog.Default(),
		byID:        make(map[string]*childHandle),
	}

	for _, opt := range opts {
		opt(n)
	}

	n.log = n.log.With("supervisor", name, "strategy", strategy.String())

	return n
}

// AddChild appends a child spec. On a started node the child starts
// immediately; otherwise it starts with the node.
func (n *Node) AddChild(ctx context.Context, spec Spec) error {
	if spec.Child == nil {
		return ErrNilChild
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.byID[spec.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateChild, spec.ID)
	}

	h := &childHandle{spec: spec}
	n.children = append(n.children, h)
	n.byID[spec.ID] = h

	if n.started && !n.stopping && !n.failed {
		return n.startChildLocked(ctx, h)
	}

	return nil
}

// Start brings every child up in insertion order. If any child fails to
// start, the ones already started are stopped in reverse order and the
// error is returned.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return ErrAlreadyStarted
	}

	n.started = true
	n.stopping = false
	n.failed = false

	for _, h := range n.children {
		h.restarts = nil
	}

	for i, h := range n.children {
		if err := n.startChildLocked(ctx, h); err != nil {
			for j := i - 1; j >= 0; j-- {
				n.stopChildLocked(n.children[j])
			}

			n.started = false

			return fmt.Errorf("starting child %q: %w", h.spec.ID, err)
		}
	}

	if n.probeInterval > 0 {
		n.monitorStop = make(chan struct{})
		n.monitorDone = make(chan struct{})

		go n.monitor()
	}

	n.log.Info("supervisor started", "children", len(n.children))

	return nil
}

// Stop brings every child down in reverse start order, then stops the
// health monitor.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()

	if !n.started {
		n.mu.Unlock()

		return ErrNotStarted
	}

	n.stopping = true
	monitorStop, monitorDone := n.monitorStop, n.monitorDone
	n.mu.Unlock()

	if monitorStop != nil {
		close(monitorStop)
		<-monitorDone
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var errs amperrors.Collection

	for i := len(n.children) - 1; i >= 0; i-- {
		if err := n.stopChildLocked(n.children[i]); err != nil {
			errs.Add(fmt.Errorf("stopping child %q: %w", n.children[i].spec.ID, err))
		}
	}

	n.started = false
	n.monitorStop = nil
	n.monitorDone = nil

	n.log.Info("supervisor stopped")

	return errs.GetError()
}

// OnFailure installs the parent's escalation callback, making this node
// usable as a supervised child itself.
func (n *Node) OnFailure(fn func(error)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.onFailure = fn
}

// NotifyFailure reports that the identified child terminated abnormally.
// Child adapters call this from their failure callbacks; the node reacts
// according to its strategy and restart budget.
func (n *Node) NotifyFailure(id string, cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handleTerminationLocked(id, cause, true)
}

// NotifyStopped reports a clean child termination, which only Permanent
// children come back from.
func (n *Node) NotifyStopped(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handleTerminationLocked(id, nil, false)
}

// Active reports whether the identified child is currently up.
func (n *Node) Active(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.byID[id]

	return ok && h.active
}

// Failed reports whether the node gave up and shut itself down.
func (n *Node) Failed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.failed
}

// ChildIDs returns the child ids in start order.
func (n *Node) ChildIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]string, 0, len(n.children))
	for _, h := range n.children {
		ids = append(ids, h.spec.ID)
	}

	return ids
}

func (n *Node) startChildLocked(ctx context.Context, h *childHandle) error {
	if r, ok := h.spec.Child.(FailureReporter); ok {
		id := h.spec.ID
		r.OnFailure(func(err error) {
			n.NotifyFailure(id, err)
		})
	}

	if err := h.spec.Child.Start(ctx); err != nil {
		return err
	}

	h.active = true
	childrenActive.WithLabelValues(n.name).Inc()

	return nil
}

// stopChildLocked stops an active child under its shutdown policy. An
// Immediate policy hands the child an already-cancelled context.
func (n *Node) stopChildLocked(h *childHandle) error {
	if !h.active {
		return nil
	}

	h.active = false
	childrenActive.WithLabelValues(n.name).Dec()

	ctx := context.Background()

	var cancel context.CancelFunc

	if h.spec.Shutdown.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.spec.Shutdown.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
		cancel()
	}

	defer cancel()

	return h.spec.Child.Stop(ctx)
}

// handleTerminationLocked is the strategy core: it deactivates the
// terminated child, consults its restart policy and the budget, and
// restarts the strategy's blast radius.
func (n *Node) handleTerminationLocked(id string, cause error, abnormal bool) {
	if !n.started || n.stopping || n.failed {
		return
	}

	h, ok := n.byID[id]
	if !ok || !h.active {
		return
	}

	h.active = false
	childrenActive.WithLabelValues(n.name).Dec()

	n.log.Warn("child terminated",
		"child", id,
		"abnormal", abnormal,
		"error", cause)

	if !h.spec.Restart.ShouldRestart(abnormal) {
		if h.spec.Significant {
			if cause == nil {
				cause = errors.New("clean termination")
			}

			n.log.Info("significant child gone, shutting supervisor down", "child", id)
			n.giveUpLocked(fmt.Errorf("significant child %q terminated: %w", id, cause))
		}

		return
	}

	now := time.Now()
	h.restarts = pruneBefore(append(h.restarts, now), now.Add(-n.window))

	if len(h.restarts) > n.maxRestarts {
		restartBudgetExhausted.WithLabelValues(n.name).Inc()

		budgetErr := fmt.Errorf("%w: child %q: %d restarts in %s: %w",
			ErrBudgetExhausted, id, len(h.restarts), n.window, cause)

		// Budget breach permanently deactivates the child. Significance
		// decides whether that is contained here or takes the whole
		// node down.
		n.log.Error("child exceeded restart budget, deactivating", "child", id, "error", budgetErr)

		if h.spec.Significant {
			n.giveUpLocked(budgetErr)
		}

		return
	}

	var set []*childHandle

	switch n.strategy {
	case OneForAll:
		set = n.blastRadiusLocked(0, h)
	case RestForOne:
		set = n.blastRadiusLocked(n.indexOfLocked(h), h)
	case OneForOne:
		fallthrough
	default:
		set = []*childHandle{h}
	}

	n.restartSetLocked(set, cause)
}

// blastRadiusLocked stops every active child at index >= from and
// returns the group to restart: the failed child plus the stopped
// siblings whose policy brings them back. A sibling stop counts as
// abnormal for restart purposes. Already-inactive children stay down.
func (n *Node) blastRadiusLocked(from int, failed *childHandle) []*childHandle {
	stopped := make(map[*childHandle]bool)

	// Stop in reverse start order first.
	for i := len(n.children) - 1; i >= from; i-- {
		h := n.children[i]
		if h == failed || !h.active {
			continue
		}

		if err := n.stopChildLocked(h); err != nil {
			n.log.Error("stopping child for restart", "child", h.spec.ID, "error", err)
		}

		stopped[h] = true
	}

	var set []*childHandle

	for i := from; i < len(n.children); i++ {
		h := n.children[i]
		if h == failed || (stopped[h] && h.spec.Restart.ShouldRestart(true)) {
			set = append(set, h)
		}
	}

	return set
}

func (n *Node) indexOfLocked(h *childHandle) int {
	for i, c := range n.children {
		if c == h {
			return i
		}
	}

	return -1
}

// restartSetLocked restarts the set in start order, retrying each start
// with exponential backoff. A child that cannot be started at all takes
// the supervisor down.
func (n *Node) restartSetLocked(set []*childHandle, cause error) {
	for _, h := range set {
		err := retry.Do(context.Background(), func(ctx context.Context) error {
			return n.startChildLocked(ctx, h)
		},
			retry.WithAttempts(3),
			retry.WithBackoff(retry.ExpBackoff{
				Base:   10 * time.Millisecond,
				Max:    time.Second,
				Factor: 2,
			}))
		if err != nil {
			n.log.Error("child restart failed", "child", h.spec.ID, "error", err)
			n.giveUpLocked(fmt.Errorf("restarting child %q: %w", h.spec.ID, err))

			return
		}

		childRestarts.WithLabelValues(n.name, n.strategy.String()).Inc()
		n.log.Info("child restarted", "child", h.spec.ID, "cause", cause)
	}
}

// giveUpLocked stops all remaining children and escalates to the
// parent. The node ends up stopped, so a parent supervisor can restart
// the whole subtree with a plain Start.
func (n *Node) giveUpLocked(cause error) {
	n.failed = true

	for i := len(n.children) - 1; i >= 0; i-- {
		if err := n.stopChildLocked(n.children[i]); err != nil {
			n.log.Error("stopping child during give-up", "child", n.children[i].spec.ID, "error", err)
		}
	}

	if n.monitorStop != nil {
		// Signal only: the monitor may be waiting on this mutex, so
		// waiting for it here would deadlock.
		close(n.monitorStop)
		n.monitorStop = nil
		n.monitorDone = nil
	}

	n.started = false

	n.log.Error("supervisor giving up", "error", cause)

	if n.onFailure != nil {
		// Escalate off-lock: the parent's reaction may call back into
		// this node's Stop.
		fn := n.onFailure

		go fn(cause)
	}
}

// monitor probes HealthChecker children on a fixed interval.
func (n *Node) monitor() {
	defer close(n.monitorDone)

	ticker := time.NewTicker(n.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.monitorStop:
			return
		case <-ticker.C:
			n.probeAll()
		}
	}
}

func (n *Node) probeAll() {
	n.mu.Lock()

	type probe struct {
		id string
		hc HealthChecker
	}

	var probes []probe

	for _, h := range n.children {
		if !h.active {
			continue
		}

		if hc, ok := h.spec.Child.(HealthChecker); ok {
			probes = append(probes, probe{id: h.spec.ID, hc: hc})
		}
	}
	n.mu.Unlock()

	for _, p := range probes {
		ctx, cancel := context.WithTimeout(context.Background(), n.probeTimeout)
		health := p.hc.HealthCheck(ctx)

		cancel()

		if health.Status == StatusUnhealthy {
			unhealthyProbes.WithLabelValues(n.name, p.id).Inc()
			n.NotifyFailure(p.id, fmt.Errorf("%w: %s", ErrChildUnhealthy, health.Reason))
		}
	}
}

// pruneBefore drops timestamps older than cutoff, keeping order.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}

	return ts[i:]
}
