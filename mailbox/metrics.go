package mailbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for mailbox traffic across the process. Per-mailbox
// breakdowns are available through AtomicRecorder; the global view here is
// what operators alert on.

var (
	// mailboxEnqueued counts envelopes admitted to any mailbox.
	mailboxEnqueued = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "mailbox_enqueued_total",
		Help: "The total number of envelopes enqueued into mailboxes",
	})

	// mailboxDequeued counts envelopes handed to consumers.
	mailboxDequeued = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "mailbox_dequeued_total",
		Help: "The total number of envelopes dequeued from mailboxes",
	})

	// mailboxDropped counts incoming envelopes discarded because the
	// mailbox was full.
	mailboxDropped = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "mailbox_dropped_total",
		Help: "The total number of envelopes dropped by full mailboxes",
	})

	// mailboxEvicted counts queued envelopes displaced under DropOldest.
	mailboxEvicted = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "mailbox_evicted_total",
		Help: "The total number of envelopes evicted to admit newer ones",
	})

	// mailboxRejected counts sends refused because the mailbox closed.
	mailboxRejected = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "mailbox_rejected_total",
		Help: "The total number of sends rejected by closed mailboxes",
	})

	// mailboxClosed counts mailbox closures.
	mailboxClosed = promauto.NewCounter(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "mailbox_closed_total",
		Help: "The total number of mailboxes closed",
	})
)

// promRecorder is the default Recorder, feeding the package metrics.
type promRecorder struct{}

func (promRecorder) Enqueued() { mailboxEnqueued.Inc() }
func (promRecorder) Dequeued() { mailboxDequeued.Inc() }
func (promRecorder) Dropped()  { mailboxDropped.Inc() }
func (promRecorder) Evicted()  { mailboxEvicted.Inc() }
func (promRecorder) Rejected() { mailboxRejected.Inc() }
func (promRecorder) Closed()   { mailboxClosed.Inc() }
