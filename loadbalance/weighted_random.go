package loadbalance

import (
	"math/rand"
	"mqrpc/registry"
)

type WeightedRandomBalancer struct{}

// Pick selects an instance with probability proportional to its weight.
// Without any positive weight every instance is equally likely.
func (b *WeightedRandomBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	totalWeight := 0
	for _, v := range instances {
		if v.Weight > 0 {
			totalWeight += v.Weight
		}
	}
	if totalWeight == 0 {
		return &instances[rand.Intn(len(instances))], nil
	}

	r := rand.Intn(totalWeight)
	for i, v := range instances {
		if v.Weight <= 0 {
			continue
		}
		r -= v.Weight
		if r < 0 {
			return &instances[i], nil
		}
	}

	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
