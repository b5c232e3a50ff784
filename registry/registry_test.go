package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airsstack/airssys-rt/address"
	"github.com/airsstack/airssys-rt/mailbox"
	"github.com/airsstack/airssys-rt/message"
)

type ping struct {
	message.Base
}

func (ping) Type() string { return "ping" }

func newSender(t *testing.T) mailbox.Sender[ping] {
	t.Helper()

	mb, sender := mailbox.NewBounded[ping](1, mailbox.DropNewest, mailbox.WithRecorder(mailbox.NopRecorder{}))
	t.Cleanup(mb.Close)

	return sender
}

func TestRegisterResolve(t *testing.T) {
	t.Parallel()

	r := New[ping]()
	addr := address.Named("worker")

	require.NoError(t, r.Register(addr, newSender(t)))

	_, ok := r.Resolve(addr)
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_Duplicate(t *testing.T) {
	t.Parallel()

	r := New[ping]()
	addr := address.Named("worker")

	require.NoError(t, r.Register(addr, newSender(t)))
	require.ErrorIs(t, r.Register(addr, newSender(t)), ErrDuplicate)
}

func TestRegister_PoolAddressRejected(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	err := r.Register(address.Pool("workers", address.RoundRobin), newSender(t))
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestResolve_Unknown(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	_, ok := r.Resolve(address.Named("ghost"))
	assert.False(t, ok)
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	r := New[ping]()
	addr := address.Named("worker")

	require.NoError(t, r.Register(addr, newSender(t)))
	r.Unregister(addr)

	_, ok := r.Resolve(addr)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	// Unregistering again is harmless.
	r.Unregister(addr)
}

func TestResolve_KeyedServiceSharesIdentity(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	keyed := address.ServiceWithKey("payments", "tenant-9")
	require.NoError(t, r.Register(keyed, newSender(t)))

	// The routing key is a resolution hint, not part of the identity.
	_, ok := r.Resolve(address.Service("payments"))
	assert.True(t, ok)

	_, ok = r.ResolveByRoutingKey("tenant-9")
	assert.True(t, ok)

	_, ok = r.ResolveByRoutingKey("tenant-0")
	assert.False(t, ok)
}

func TestPool_RoundRobin(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	members := make([]address.Address, 3)
	for i := range members {
		members[i] = address.Named(fmt.Sprintf("worker-%d", i))
		require.NoError(t, r.Register(members[i], newSender(t)))
		r.JoinPool("workers", members[i])
	}

	require.Equal(t, 3, r.PoolSize("workers"))

	seen := make(map[address.Address]int)

	for range 6 {
		m, ok := r.PoolMember("workers", address.RoundRobin)
		require.True(t, ok)

		seen[m]++
	}

	// Round robin spreads evenly: two picks per member over two cycles.
	for _, m := range members {
		assert.Equal(t, 2, seen[m])
	}
}

func TestPool_Random(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	for i := range 3 {
		member := address.Named(fmt.Sprintf("w-%d", i))
		require.NoError(t, r.Register(member, newSender(t)))
		r.JoinPool("pick", member)
	}

	for range 20 {
		_, ok := r.PoolMember("pick", address.Random)
		require.True(t, ok)
	}
}

func TestPool_ResolveThroughPoolAddress(t *testing.T) {
	t.Parallel()

	r := New[ping]()
	member := address.Named("lone")

	require.NoError(t, r.Register(member, newSender(t)))
	r.JoinPool("solo", member)

	_, ok := r.Resolve(address.Pool("solo", address.RoundRobin))
	assert.True(t, ok)
}

func TestPool_EmptyAndUnknown(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	_, ok := r.PoolMember("nope", address.RoundRobin)
	assert.False(t, ok)

	_, ok = r.Resolve(address.Pool("nope", address.Random))
	assert.False(t, ok)
}

func TestUnregister_RemovesFromPools(t *testing.T) {
	t.Parallel()

	r := New[ping]()
	member := address.Named("transient")

	require.NoError(t, r.Register(member, newSender(t)))
	r.JoinPool("group", member)
	require.Equal(t, 1, r.PoolSize("group"))

	r.Unregister(member)

	assert.Equal(t, 0, r.PoolSize("group"))
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	var wg sync.WaitGroup

	for g := range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range 100 {
				addr := address.Named(fmt.Sprintf("g%d-a%d", g, i))
				assert.NoError(t, r.Register(addr, newSender(t)))

				_, ok := r.Resolve(addr)
				assert.True(t, ok)

				r.Unregister(addr)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func TestUnregister_ReleasesRoutingKey(t *testing.T) {
	t.Parallel()

	r := New[ping]()
	keyed := address.ServiceWithKey("svc", "tenant-42")

	require.NoError(t, r.Register(keyed, newSender(t)))
	r.Unregister(keyed)

	_, ok := r.ResolveByRoutingKey("tenant-42")
	assert.False(t, ok, "routing key must die with its registrant")

	// A later registrant of the same service name never claimed the key
	// and must not inherit it.
	require.NoError(t, r.Register(address.Service("svc"), newSender(t)))

	_, ok = r.ResolveByRoutingKey("tenant-42")
	assert.False(t, ok)
}

func TestUnregister_KeepsReclaimedRoutingKey(t *testing.T) {
	t.Parallel()

	r := New[ping]()

	first := address.ServiceWithKey("svc-a", "shared")
	second := address.ServiceWithKey("svc-b", "shared")

	require.NoError(t, r.Register(first, newSender(t)))
	require.NoError(t, r.Register(second, newSender(t)))

	// The key now binds to the newer registrant; the older one leaving
	// must not tear that binding down.
	r.Unregister(first)

	_, ok := r.ResolveByRoutingKey("shared")
	assert.True(t, ok)
}
