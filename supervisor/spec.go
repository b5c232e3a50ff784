package supervisor

import "time"

// RestartPolicy decides whether a terminated child comes back.
type RestartPolicy uint8

const (
	// Permanent children are always restarted.
	Permanent RestartPolicy = iota
	// Transient children are restarted only after abnormal termination.
	Transient
	// Temporary children are never restarted.
	Temporary
)

// String returns the policy name.
func (p RestartPolicy) String() string {
	switch p {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// ShouldRestart reports whether a child with this policy restarts after
// a termination; abnormal is true when the child failed rather than
// stopped cleanly.
func (p RestartPolicy) ShouldRestart(abnormal bool) bool {
	switch p {
	case Permanent:
		return true
	case Transient:
		return abnormal
	case Temporary:
		return false
	default:
		return false
	}
}

// ShutdownPolicy bounds how a child is brought down.
type ShutdownPolicy struct {
	// Timeout bounds graceful stop. Zero means stop immediately with an
	// already-cancelled context.
	Timeout time.Duration
}

// Graceful allows up to d for the child's Stop to finish.
func Graceful(d time.Duration) ShutdownPolicy {
	return ShutdownPolicy{Timeout: d}
}

// Immediate stops the child without a grace period.
func Immediate() ShutdownPolicy {
	return ShutdownPolicy{}
}

// Spec describes one supervised child.
type Spec struct {
	// ID names the child uniquely within its supervisor.
	ID string

	// Child is the managed unit.
	Child Child

	// Restart decides when the child comes back after terminating.
	Restart RestartPolicy

	// Shutdown bounds the child's stop.
	Shutdown ShutdownPolicy

	// Significant marks a child whose permanent termination shuts the
	// whole supervisor down.
	Significant bool
}
