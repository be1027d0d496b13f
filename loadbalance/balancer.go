// Package loadbalance picks which instance of a device a client connects to.
//
//   - RoundRobin:      equal instances, spread connections evenly
//   - WeightedRandom:  instances with different capacity
//   - ConsistentHash:  keep one node path on one instance
package loadbalance

import (
	"errors"
	"shvattr/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance from the available list. Pick must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.DeviceInstance) (*registry.DeviceInstance, error)
	Name() string
}

// KeyedBalancer selects by key; the same key keeps landing on the same instance
// while the instance list is unchanged.
type KeyedBalancer interface {
	PickKey(key string, instances []registry.DeviceInstance) (*registry.DeviceInstance, error)
	Name() string
}

// Keyed adapts a Balancer that does not care about keys.
func Keyed(b Balancer) KeyedBalancer {
	return keyless{b}
}

type keyless struct {
	Balancer
}

func (k keyless) PickKey(_ string, instances []registry.DeviceInstance) (*registry.DeviceInstance, error) {
	return k.Pick(instances)
}

// New returns the balancer called name: "roundrobin", "weighted" or "hash".
func New(name string) (KeyedBalancer, error) {
	switch name {
	case "", "roundrobin":
		return Keyed(&RoundRobinBalancer{}), nil
	case "weighted":
		return Keyed(&WeightedRandomBalancer{}), nil
	case "hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.New("loadbalance: unknown strategy " + name)
}
