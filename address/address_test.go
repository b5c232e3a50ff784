package address

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_Unique(t *testing.T) {
	t.Parallel()

	a := NewID()
	b := NewID()

	assert.Equal(t, KindID, a.Kind())
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, uuid.Nil, a.ID())
}

func TestNamed_Equality(t *testing.T) {
	t.Parallel()

	a := Named("worker")
	b := Named("worker")

	// Named addresses are stable identifiers: same name, same address.
	assert.Equal(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())

	m := map[Address]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestService_RoutingKeyDoesNotChangeIdentity(t *testing.T) {
	t.Parallel()

	plain := Service("payments")
	keyed := ServiceWithKey("payments", "tenant-42")

	assert.Equal(t, "tenant-42", keyed.RoutingKey())
	assert.NotEqual(t, plain, keyed)
	assert.Equal(t, plain.Key(), keyed.Key())
	assert.Equal(t, plain.Hash(), keyed.Hash())
}

func TestPool(t *testing.T) {
	t.Parallel()

	p := Pool("workers", Random)

	assert.Equal(t, KindPool, p.Kind())
	assert.Equal(t, "workers", p.Name())
	assert.Equal(t, Random, p.Strategy())
}

func TestAddress_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr Address
		want string
	}{
		{name: "named", addr: Named("gw"), want: "named:gw"},
		{name: "service", addr: Service("s"), want: "service:s"},
		{name: "service keyed", addr: ServiceWithKey("s", "k"), want: "service:s[k]"},
		{name: "pool", addr: Pool("p", RoundRobin), want: "pool:p(round_robin)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.addr.String())
		})
	}
}

func TestAddress_IsZero(t *testing.T) {
	t.Parallel()

	var zero Address

	require.True(t, zero.IsZero())
	assert.False(t, Named("x").IsZero())
}

func TestHash_DiffersAcrossKinds(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, Named("x").Hash(), Service("x").Hash())
}
