package message

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airsstack/airssys-rt/address"
)

type ping struct {
	Base
	Seq int
}

func (ping) Type() string { return "ping" }

type urgent struct {
	Base
}

func (urgent) Type() string { return "urgent" }

func (urgent) Priority() Priority { return PriorityCritical }

func TestBase_Defaults(t *testing.T) {
	t.Parallel()

	msg := ping{Seq: 1}

	assert.Equal(t, "ping", msg.Type())
	assert.Equal(t, PriorityNormal, msg.Priority())
	assert.Equal(t, 1, msg.Version())
	assert.Empty(t, msg.RoutingKey())
}

func TestNewEnvelope(t *testing.T) {
	t.Parallel()

	to := address.Named("target")
	env := NewEnvelope(ping{Seq: 7}, to)

	assert.NotEqual(t, uuid.Nil, env.ID)
	assert.Equal(t, to, env.Recipient)
	assert.Equal(t, 7, env.Payload.Seq)
	assert.WithinDuration(t, time.Now(), env.Timestamp, time.Second)
	assert.Equal(t, PriorityNormal, env.Priority)
	assert.False(t, env.IsReply())
	assert.False(t, env.HasSender())
}

func TestNewEnvelope_UniqueIDs(t *testing.T) {
	t.Parallel()

	to := address.Named("target")

	a := NewEnvelope(ping{}, to)
	b := NewEnvelope(ping{}, to)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewEnvelope_PriorityFromPayload(t *testing.T) {
	t.Parallel()

	env := NewEnvelope[Message](urgent{}, address.Named("t"))

	assert.Equal(t, PriorityCritical, env.Priority)
}

func TestNewEnvelope_PriorityOverride(t *testing.T) {
	t.Parallel()

	env := NewEnvelope(ping{}, address.Named("t"), WithPriority(PriorityLow))

	assert.Equal(t, PriorityLow, env.Priority)
}

func TestReply_Correlation(t *testing.T) {
	t.Parallel()

	from := address.Named("requester")
	req := NewEnvelope(ping{Seq: 1}, address.Named("responder"), WithSender(from))

	require.True(t, req.HasSender())

	reply := req.Reply(ping{Seq: 2})

	assert.Equal(t, req.ID, reply.CorrelationID)
	assert.Equal(t, from, reply.Recipient)
	assert.True(t, reply.IsReply())
	assert.NotEqual(t, req.ID, reply.ID)
}

func TestExpired(t *testing.T) {
	t.Parallel()

	env := NewEnvelope(ping{}, address.Named("t"), WithTTL(10*time.Millisecond))

	assert.False(t, env.Expired(env.Timestamp.Add(5*time.Millisecond)))
	assert.True(t, env.Expired(env.Timestamp.Add(20*time.Millisecond)))

	noTTL := NewEnvelope(ping{}, address.Named("t"))
	assert.False(t, noTTL.Expired(time.Now().Add(time.Hour)))
}
