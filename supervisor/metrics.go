package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// childRestarts counts restarts applied by supervisors, labeled by
	// supervisor name and strategy.
	childRestarts = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "supervisor_child_restarts_total",
		Help: "The total number of child restarts performed",
	}, []string{"supervisor", "strategy"})

	// restartBudgetExhausted counts supervisors giving up after too many
	// restarts inside the window.
	restartBudgetExhausted = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "supervisor_restart_budget_exhausted_total",
		Help: "The total number of times a supervisor exceeded its restart budget",
	}, []string{"supervisor"})

	// childrenActive tracks active children per supervisor.
	childrenActive = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "supervisor_children_active",
		Help: "The number of active supervised children",
	}, []string{"supervisor"})

	// unhealthyProbes counts failed health probes.
	unhealthyProbes = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "supervisor_unhealthy_probes_total",
		Help: "The total number of health probes that reported unhealthy",
	}, []string{"supervisor", "child"})
)
