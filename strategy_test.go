package videoforge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func provider(name string, priority int, weight float64) *registeredProvider {
	return &registeredProvider{name: name, priority: priority, weight: weight, latency: newLatencyWindow(10)}
}

func names(ps []*registeredProvider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.name
	}
	return out
}

func TestOrderByStrategy_Priority_DescendingThenName(t *testing.T) {
	a := provider("a", 1, 1)
	b := provider("b", 5, 1)
	c := provider("c", 5, 1)

	ordered := orderByStrategy([]*registeredProvider{a, b, c}, StrategyPriority, 0)
	assert.Equal(t, []string{"b", "c", "a"}, names(ordered))
}

func TestOrderByStrategy_RoundRobin_RotatesByCursor(t *testing.T) {
	a := provider("a", 1, 1)
	b := provider("b", 1, 1)
	c := provider("c", 1, 1)
	candidates := []*registeredProvider{a, b, c}

	first := orderByStrategy(candidates, StrategyRoundRobin, 0)
	second := orderByStrategy(candidates, StrategyRoundRobin, 1)
	assert.Equal(t, []string{"a", "b", "c"}, names(first))
	assert.Equal(t, []string{"b", "c", "a"}, names(second))
}

func TestOrderByStrategy_LeastLoaded_AscendingConcurrency(t *testing.T) {
	a := provider("a", 1, 1)
	b := provider("b", 1, 1)
	a.concurrency = 5
	b.concurrency = 1

	ordered := orderByStrategy([]*registeredProvider{a, b}, StrategyLeastLoaded, 0)
	assert.Equal(t, []string{"b", "a"}, names(ordered))
}

func TestOrderByStrategy_LatencyBased_NoDataSortsLast(t *testing.T) {
	a := provider("a", 1, 1)
	b := provider("b", 1, 1)
	a.latency.add(50 * time.Millisecond)
	// b has no samples recorded.

	ordered := orderByStrategy([]*registeredProvider{b, a}, StrategyLatencyBased, 0)
	assert.Equal(t, []string{"a", "b"}, names(ordered))
}

func TestOrderByStrategy_Weighted_ProducesFullPermutation(t *testing.T) {
	a := provider("a", 1, 10)
	b := provider("b", 1, 1)
	ordered := orderByStrategy([]*registeredProvider{a, b}, StrategyWeighted, 0)
	assert.Len(t, ordered, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, names(ordered))
}

func TestEffectiveWeight_NonPositiveTreatedAsOne(t *testing.T) {
	assert.Equal(t, 1.0, effectiveWeight(provider("a", 1, 0)))
	assert.Equal(t, 1.0, effectiveWeight(provider("a", 1, -3)))
	assert.Equal(t, 2.5, effectiveWeight(provider("a", 1, 2.5)))
}
