// Package supervisor implements supervision trees: ordered groups of
// restartable children with configurable restart strategies and a
// bounded restart budget. A supervisor Node is itself a Child, so trees
// nest naturally.
package supervisor

import "context"

// Child is anything a supervisor can start and stop. An actor adapter,
// a nested supervisor node, or any managed resource qualifies.
type Child interface {
	// Start brings the child up. It is called once initially and again
	// on every restart; implementations must be restartable.
	Start(ctx context.Context) error

	// Stop brings the child down gracefully.
	Stop(ctx context.Context) error
}

// FailureReporter is implemented by children able to report abnormal
// termination asynchronously. The supervisor installs its callback at
// start; the callback must be safe to invoke from any goroutine.
type FailureReporter interface {
	OnFailure(fn func(error))
}

// HealthStatus classifies a health probe result.
type HealthStatus uint8

const (
	// StatusUnknown means the child does not expose health.
	StatusUnknown HealthStatus = iota
	// StatusHealthy means the last probe passed.
	StatusHealthy
	// StatusUnhealthy means the last probe failed.
	StatusUnhealthy
)

// String returns the status name.
func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Health is one probe result.
type Health struct {
	Status HealthStatus
	Reason string
}

// HealthChecker is implemented by children that can be probed. The
// supervisor's monitor treats an unhealthy probe like a failure report.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}
