package system

import (
	"sync"
	"time"

	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/message"
)

// Dead-letter reasons recorded by the router.
const (
	ReasonUnresolved      = "unresolved_address"
	ReasonMailboxClosed   = "mailbox_closed"
	ReasonMailboxFull     = "mailbox_full"
	ReasonExpired         = "expired"
	ReasonDeliveryTimeout = "delivery_timeout"
)

// DeadLetter is an envelope the router could not deliver to a live
// mailbox, together with why and when.
type DeadLetter[M message.Message] struct {
	Envelope message.Envelope[M]
	Reason   string
	At       time.Time
}

// DeadLetterLog retains the most recent undeliverable envelopes and
// exposes them on a diagnostic channel. Recording never blocks the
// router: when the channel's consumer lags, notifications are dropped
// while the ring buffer keeps the recent history.
type DeadLetterLog[M message.Message] struct {
	mu    sync.Mutex
	buf   []DeadLetter[M]
	next  int
	full  bool
	ch    chan DeadLetter[M]
	total *uatomic.Int64
}

// newDeadLetterLog creates a log retaining the last `retention` entries.
func newDeadLetterLog[M message.Message](retention int) *DeadLetterLog[M] {
	if retention <= 0 {
		retention = 1
	}

	return &DeadLetterLog[M]{
		buf:   make([]DeadLetter[M], retention),
		ch:    make(chan DeadLetter[M], retention),
		total: uatomic.NewInt64(0),
	}
}

// Record stores a dead letter. Never blocks.
func (l *DeadLetterLog[M]) Record(env message.Envelope[M], reason string) {
	letter := DeadLetter[M]{Envelope: env, Reason: reason, At: time.Now()}

	l.mu.Lock()
	l.buf[l.next] = letter
	l.next = (l.next + 1) % len(l.buf)

	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.total.Inc()
	deadLetters.WithLabelValues(reason).Inc()

	select {
	case l.ch <- letter:
	default:
	}
}

// C is the diagnostic channel of dead letters. Notifications are dropped
// when nobody keeps up; use Recent for the authoritative tail.
func (l *DeadLetterLog[M]) C() <-chan DeadLetter[M] {
	return l.ch
}

// Recent returns the retained dead letters, oldest first.
func (l *DeadLetterLog[M]) Recent() []DeadLetter[M] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]DeadLetter[M], l.next)
		copy(out, l.buf[:l.next])

		return out
	}

	out := make([]DeadLetter[M], 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	out = append(out, l.buf[:l.next]...)

	return out
}

// Count returns the total number of dead letters recorded since start,
// including ones no longer retained.
func (l *DeadLetterLog[M]) Count() int64 {
	return l.total.Load()
}
