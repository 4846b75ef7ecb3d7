// Package loadbalance picks the broker a client connects to among the ones a
// service is advertised on.
//
// Three strategies are implemented:
//   - RoundRobin:      spread clients evenly over equal brokers
//   - WeightedRandom:  brokers of different capacity
//   - ConsistentHash:  keep every client of a service queue on the same broker node
package loadbalance

import (
	"mqrpc/registry"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned when a service has no advertised broker.
var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance for key (the service queue name).
	// Must be goroutine-safe.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// ByName returns the balancer for a strategy name; unknown names get round robin.
func ByName(name string) Balancer {
	switch name {
	case "WeightedRandom":
		return &WeightedRandomBalancer{}
	case "ConsistentHash":
		return NewConsistentHashBalancer()
	}
	return &RoundRobinBalancer{}
}
