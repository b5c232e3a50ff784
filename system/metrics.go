package system

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the actor system, labeled by system name so
// several systems in one process stay distinguishable.

var (
	// actorsAlive tracks currently running actors.
	actorsAlive = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "system_actors_alive",
		Help: "The number of actors currently running",
	}, []string{"system"})

	// actorsSpawned counts successful spawns.
	actorsSpawned = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "system_actors_spawned_total",
		Help: "The total number of actors spawned",
	}, []string{"system"})

	// actorsStopped counts clean stops.
	actorsStopped = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "system_actors_stopped_total",
		Help: "The total number of actors stopped",
	}, []string{"system"})

	// actorsFailed counts actors that ended in the failed state.
	actorsFailed = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "system_actors_failed_total",
		Help: "The total number of actors that failed",
	}, []string{"system"})

	// actorRestarts counts in-place restarts triggered by ErrorAction.
	actorRestarts = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "system_actor_restarts_total",
		Help: "The total number of in-place actor restarts",
	}, []string{"system"})

	// routedEnvelopes counts envelopes the router delivered.
	routedEnvelopes = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "system_routed_envelopes_total",
		Help: "The total number of envelopes routed into mailboxes",
	}, []string{"system"})

	// deadLetters counts undeliverable envelopes by reason.
	deadLetters = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "system_dead_letters_total",
		Help: "The total number of dead letters recorded",
	}, []string{"reason"})

	// handleTime measures time spent inside Behavior.Handle.
	handleTime = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name: "system_handle_time",
		Help: "The time spent handling a message",
		Buckets: []float64{
			0.0001, // 100µs
			0.001,  // 1ms
			0.01,   // 10ms
			0.1,    // 100ms
			1,      // 1s
			10,     // 10s
		},
	}, []string{"system"})
)
