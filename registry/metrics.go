package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// registryActors tracks the number of addresses currently registered.
var registryActors = promauto.NewGauge(prometheus.GaugeOpts{ //nolint:gochecknoglobals
	Name: "registry_registered_actors",
	Help: "The number of actor addresses currently registered",
})
