package videoforge

import (
	"math/rand"
	"sort"
)

// orderByStrategy returns candidates reordered according to mode. The
// input slice is not mutated; candidates is assumed to already exclude
// disabled and breaker-OPEN providers.
func orderByStrategy(candidates []*registeredProvider, mode StrategyMode, cursor uint64) []*registeredProvider {
	ordered := make([]*registeredProvider, len(candidates))
	copy(ordered, candidates)

	switch mode {
	case StrategyRoundRobin:
		return rotate(ordered, cursor)
	case StrategyWeighted:
		return sampleWeighted(ordered)
	case StrategyLeastLoaded:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Concurrency() < ordered[j].Concurrency()
		})
		return ordered
	case StrategyLatencyBased:
		sort.SliceStable(ordered, func(i, j int) bool {
			li, iok := ordered[i].RollingLatency()
			lj, jok := ordered[j].RollingLatency()
			if !iok && !jok {
				return false
			}
			if !iok {
				return false
			}
			if !jok {
				return true
			}
			return li < lj
		})
		return ordered
	case StrategyPriority, "":
		fallthrough
	default:
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].priority != ordered[j].priority {
				return ordered[i].priority > ordered[j].priority
			}
			return ordered[i].name < ordered[j].name
		})
		return ordered
	}
}

// rotate applies a priority sort, then rotates the result by cursor mod
// len(ordered) so successive calls visit candidates round-robin, with
// fallbacks continuing in strategy order from that point.
func rotate(ordered []*registeredProvider, cursor uint64) []*registeredProvider {
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].name < ordered[j].name
	})
	n := len(ordered)
	if n == 0 {
		return ordered
	}
	start := int(cursor % uint64(n))
	out := make([]*registeredProvider, 0, n)
	out = append(out, ordered[start:]...)
	out = append(out, ordered[:start]...)
	return out
}

// sampleWeighted samples without replacement proportional to weight,
// producing a full ordering. A zero or negative weight is treated as 1.
func sampleWeighted(candidates []*registeredProvider) []*registeredProvider {
	pool := make([]*registeredProvider, len(candidates))
	copy(pool, candidates)
	out := make([]*registeredProvider, 0, len(pool))

	for len(pool) > 0 {
		total := 0.0
		for _, p := range pool {
			total += effectiveWeight(p)
		}
		r := rand.Float64() * total
		cumulative := 0.0
		idx := len(pool) - 1
		for i, p := range pool {
			cumulative += effectiveWeight(p)
			if r < cumulative {
				idx = i
				break
			}
		}
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

func effectiveWeight(p *registeredProvider) float64 {
	if p.weight <= 0 {
		return 1
	}
	return p.weight
}
