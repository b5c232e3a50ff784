package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for broker traffic.

var (
	// published counts envelopes accepted for fan-out, by message type.
	published = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "broker_published_total",
		Help: "The total number of envelopes published",
	}, []string{"type"})

	// publishErrors counts publishes refused by hooks or a closed broker.
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "broker_publish_errors_total",
		Help: "The total number of failed publishes",
	})

	// subscribers tracks the number of active subscriptions.
	subscribers = promauto.NewGauge(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "broker_subscribers",
		Help: "The number of active broker subscriptions",
	})

	// requests counts request-reply publishes.
	requests = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "broker_requests_total",
		Help: "The total number of request-reply publishes",
	})

	// requestTimeouts counts requests that saw no correlated reply in time.
	requestTimeouts = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "broker_request_timeouts_total",
		Help: "The total number of requests that timed out",
	})

	// publishTime measures time spent in the publish path.
	publishTime = promauto.NewHistogram(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name: "broker_publish_time",
		Help: "The time spent publishing an envelope",
		Buckets: []float64{
			0.000001, // 1µs
			0.00001,  // 10µs
			0.0001,   // 100µs
			0.001,    // 1ms
			0.01,     // 10ms
			0.1,      // 100ms
			1,        // 1s
		},
	})
)
