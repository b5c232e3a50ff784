// Package registry maps actor addresses to live mailbox senders. It sits
// on the hot path of every routed envelope, so the table is sharded with
// per-shard read/write locks instead of one global mutex: concurrent
// resolves against different shards never contend, and a resolve racing a
// registration simply misses (the router turns the miss into a dead
// letter).
package registry

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/zeebo/xxh3"
	uatomic "go.uber.org/atomic"

	"github.com/airsstack/airssys-rt/address"
	"github.com/airsstack/airssys-rt/mailbox"
	"github.com/airsstack/airssys-rt/message"
)

var (
	// ErrDuplicate is returned when registering an address that already
	// has a live mailbox.
	ErrDuplicate = errors.New("address already registered")
	// ErrInvalidAddress is returned when an address kind cannot be
	// registered directly (pool addresses resolve through members).
	ErrInvalidAddress = errors.New("address kind cannot be registered")
)

// shardCount must be a power of two; 32 keeps contention negligible for
// tens of thousands of actors while staying cache-friendly.
const shardCount = 32

// entry carries the sender plus the routing-key hash the address claimed
// at registration, so unregistering can drop the reverse index without a
// scan.
type entry[M message.Message] struct {
	sender  mailbox.Sender[M]
	keyHash uint64
	hasKey  bool
}

type shard[M message.Message] struct {
	mu      sync.RWMutex
	entries map[address.Address]entry[M]
}

type pool struct {
	mu      sync.RWMutex
	members []address.Address
	next    uatomic.Uint64
}

// Registry is the concurrent address → mailbox-sender table. The zero
// value is not usable; call New.
type Registry[M message.Message] struct {
	shards [shardCount]shard[M]

	poolMu sync.RWMutex
	pools  map[string]*pool

	// keyed holds pre-computed routing-key hashes for service addresses
	// registered with a routing key.
	keyedMu sync.RWMutex
	keyed   map[uint64]address.Address
}

// New creates an empty registry.
func New[M message.Message]() *Registry[M] {
	r := &Registry[M]{
		pools: make(map[string]*pool),
		keyed: make(map[uint64]address.Address),
	}

	for i := range r.shards {
		r.shards[i].entries = make(map[address.Address]entry[M])
	}

	return r
}

func (r *Registry[M]) shardFor(addr address.Address) *shard[M] {
	return &r.shards[addr.Hash()&(shardCount-1)]
}

// Register inserts the sender under addr. Registration and resolution may
// race; no ordering is guaranteed between them.
func (r *Registry[M]) Register(addr address.Address, sender mailbox.Sender[M]) error {
	if addr.Kind() == address.KindPool {
		return ErrInvalidAddress
	}

	key := addr.Key()
	sh := r.shardFor(key)

	e := entry[M]{sender: sender}
	if addr.Kind() == address.KindService && addr.RoutingKey() != "" {
		e.keyHash = xxh3.HashString(addr.RoutingKey())
		e.hasKey = true
	}

	sh.mu.Lock()

	if _, exists := sh.entries[key]; exists {
		sh.mu.Unlock()

		return ErrDuplicate
	}

	sh.entries[key] = e
	sh.mu.Unlock()

	registryActors.Inc()

	if e.hasKey {
		r.keyedMu.Lock()
		r.keyed[e.keyHash] = key
		r.keyedMu.Unlock()
	}

	return nil
}

// Unregister removes addr from the table and from any pools it joined.
// Removing an absent address is a no-op.
func (r *Registry[M]) Unregister(addr address.Address) {
	key := addr.Key()
	sh := r.shardFor(key)

	sh.mu.Lock()
	e, existed := sh.entries[key]
	delete(sh.entries, key)
	sh.mu.Unlock()

	if existed {
		registryActors.Dec()
	}

	if existed && e.hasKey {
		// Only drop the binding if it still points at this address; a
		// newer registrant may have claimed the same routing key.
		r.keyedMu.Lock()
		if bound, ok := r.keyed[e.keyHash]; ok && bound == key {
			delete(r.keyed, e.keyHash)
		}
		r.keyedMu.Unlock()
	}

	r.poolMu.RLock()
	for _, p := range r.pools {
		p.remove(key)
	}
	r.poolMu.RUnlock()
}

// Resolve finds the live sender for addr. Pool addresses resolve through a
// member picked by the address's strategy. A false result means the
// address is not (or not yet, or no longer) registered.
func (r *Registry[M]) Resolve(addr address.Address) (mailbox.Sender[M], bool) {
	if addr.Kind() == address.KindPool {
		member, ok := r.PoolMember(addr.Name(), addr.Strategy())
		if !ok {
			var zero mailbox.Sender[M]

			return zero, false
		}

		addr = member
	}

	key := addr.Key()
	sh := r.shardFor(key)

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()

	return e.sender, ok
}

// ResolveByRoutingKey finds the service address registered with the given
// routing key and resolves it.
func (r *Registry[M]) ResolveByRoutingKey(key string) (mailbox.Sender[M], bool) {
	r.keyedMu.RLock()
	addr, ok := r.keyed[xxh3.HashString(key)]
	r.keyedMu.RUnlock()

	if !ok {
		var zero mailbox.Sender[M]

		return zero, false
	}

	return r.Resolve(addr)
}

// JoinPool adds member to the named pool, creating the pool on first use.
// The member must be independently registered for resolution to succeed.
func (r *Registry[M]) JoinPool(name string, member address.Address) {
	r.poolMu.Lock()

	p, ok := r.pools[name]
	if !ok {
		p = &pool{}
		r.pools[name] = p
	}

	r.poolMu.Unlock()

	p.add(member.Key())
}

// LeavePool removes member from the named pool.
func (r *Registry[M]) LeavePool(name string, member address.Address) {
	r.poolMu.RLock()
	p, ok := r.pools[name]
	r.poolMu.RUnlock()

	if ok {
		p.remove(member.Key())
	}
}

// PoolMember picks one member of the named pool per the strategy. Returns
// false for unknown or empty pools.
func (r *Registry[M]) PoolMember(name string, strategy address.PoolStrategy) (address.Address, bool) {
	r.poolMu.RLock()
	p, ok := r.pools[name]
	r.poolMu.RUnlock()

	if !ok {
		return address.Address{}, false
	}

	return p.pick(strategy)
}

// PoolSize returns the number of members in the named pool.
func (r *Registry[M]) PoolSize(name string) int {
	r.poolMu.RLock()
	p, ok := r.pools[name]
	r.poolMu.RUnlock()

	if !ok {
		return 0
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.members)
}

// Len returns the number of registered addresses.
func (r *Registry[M]) Len() int {
	total := 0

	for i := range r.shards {
		sh := &r.shards[i]

		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}

	return total
}

func (p *pool) add(member address.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.members {
		if m == member {
			return
		}
	}

	p.members = append(p.members, member)
}

func (p *pool) remove(member address.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, m := range p.members {
		if m == member {
			p.members = append(p.members[:i], p.members[i+1:]...)

			return
		}
	}
}

func (p *pool) pick(strategy address.PoolStrategy) (address.Address, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.members) == 0 {
		return address.Address{}, false
	}

	switch strategy {
	case address.Random:
		return p.members[rand.IntN(len(p.members))], true
	case address.RoundRobin:
		fallthrough
	default:
		n := p.next.Inc() - 1

		return p.members[int(n%uint64(len(p.members)))], true
	}
}
