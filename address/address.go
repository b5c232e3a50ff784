// Package address defines stable actor addresses. An address identifies a
// logical actor independently of any particular incarnation: a restarted
// actor keeps its address and receives a fresh mailbox behind it.
//
// Four kinds of address exist: anonymous ID addresses, named addresses,
// service addresses (optionally carrying a routing key), and pool addresses
// that are resolved to one member via a load-balancing strategy.
package address

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Kind discriminates the address variants.
type Kind uint8

const (
	// KindID is an anonymous address identified only by a unique ID.
	KindID Kind = iota
	// KindNamed is a well-known, human-readable address.
	KindNamed
	// KindService is a named service endpoint, optionally carrying a
	// routing key for partitioned dispatch.
	KindService
	// KindPool is a load-balanced group of actors addressed by pool name.
	KindPool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindNamed:
		return "named"
	case KindService:
		return "service"
	case KindPool:
		return "pool"
	default:
		return "unknown"
	}
}

// PoolStrategy selects how a pool address is resolved to a member.
type PoolStrategy uint8

const (
	// RoundRobin distributes sequentially across pool members.
	RoundRobin PoolStrategy = iota
	// Random selects a member uniformly at random.
	Random
)

// String returns the strategy name.
func (s PoolStrategy) String() string {
	switch s {
	case RoundRobin:
		return "round_robin"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// Address is a stable actor identifier. It is a comparable value type and
// can be used directly as a map key. The zero value is not a valid address;
// use one of the constructors.
type Address struct {
	kind       Kind
	id         uuid.UUID
	name       string
	routingKey string
	strategy   PoolStrategy
}

// NewID creates a fresh anonymous address with a unique ID.
func NewID() Address {
	return Address{kind: KindID, id: uuid.New()}
}

// Named creates a named address. Two Named addresses with the same name are
// equal and resolve to the same mailbox.
func Named(name string) Address {
	return Address{kind: KindNamed, name: name}
}

// Service creates a service address without a routing key.
func Service(name string) Address {
	return Address{kind: KindService, name: name}
}

// ServiceWithKey creates a service address carrying a routing key. The key
// travels with every envelope sent to the address and can be used by the
// registry for partitioned resolution.
func ServiceWithKey(name, routingKey string) Address {
	return Address{kind: KindService, name: name, routingKey: routingKey}
}

// Pool creates a pool address resolved via the given strategy.
func Pool(name string, strategy PoolStrategy) Address {
	return Address{kind: KindPool, name: name, strategy: strategy}
}

// Kind returns the address variant.
func (a Address) Kind() Kind {
	return a.kind
}

// ID returns the unique ID for KindID addresses, or uuid.Nil otherwise.
func (a Address) ID() uuid.UUID {
	return a.id
}

// Name returns the name for named, service and pool addresses.
func (a Address) Name() string {
	return a.name
}

// RoutingKey returns the routing key of a service address, or "" when unset.
func (a Address) RoutingKey() string {
	return a.routingKey
}

// Strategy returns the load-balancing strategy of a pool address.
func (a Address) Strategy() PoolStrategy {
	return a.strategy
}

// IsZero reports whether the address is the (invalid) zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Key returns the identity of the address with any resolution hints
// (routing key, pool strategy) stripped. Two addresses with the same Key
// route to the same registry entry.
func (a Address) Key() Address {
	return Address{kind: a.kind, id: a.id, name: a.name}
}

// Hash returns a stable 64-bit hash of the address identity. Resolution
// hints do not participate, so ServiceWithKey("s", "k1") and Service("s")
// hash identically. Used by the registry for shard selection.
func (a Address) Hash() uint64 {
	var buf [1 + 16]byte

	buf[0] = byte(a.kind)
	copy(buf[1:], a.id[:])

	h := xxh3.Hash(buf[:])

	if a.name != "" {
		h ^= xxh3.HashString(a.name)
	}

	return h
}

// String renders the address for logs and errors.
func (a Address) String() string {
	switch a.kind {
	case KindID:
		return "id:" + a.id.String()
	case KindNamed:
		return "named:" + a.name
	case KindService:
		if a.routingKey != "" {
			return fmt.Sprintf("service:%s[%s]", a.name, a.routingKey)
		}

		return "service:" + a.name
	case KindPool:
		return fmt.Sprintf("pool:%s(%s)", a.name, a.strategy)
	default:
		return "invalid"
	}
}
