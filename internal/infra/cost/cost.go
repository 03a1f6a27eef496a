// Package cost provides the task cost functions the CLI and API can select
// by name. The scheduler treats them as opaque.
package cost

import (
	"fmt"
	"math"
	"sort"

	"github.com/tutu-network/gridpool/internal/domain"
)

// DefaultHeavyIterations is the base loop count of the heavy workload.
const DefaultHeavyIterations = 100_000

// hotSpotFactor multiplies the loop count at the hot spot cells.
const hotSpotFactor = 200

// hotSpots are the cells that cost hotSpotFactor times more than the rest.
var hotSpots = map[[2]int]bool{
	{3, 3}:   true,
	{3, 5}:   true,
	{3, 7}:   true,
	{20, 10}: true,
}

// Heavy returns the benchmark workload: a numeric loop of `iterations` steps,
// 200× longer at four hot spot cells. Uneven by construction so static
// partitioning load-imbalances and dynamic scheduling does not.
func Heavy(iterations int) domain.CostFunc {
	if iterations < 1 {
		iterations = DefaultHeavyIterations
	}
	return func(x, y int) float64 {
		loop := 1
		if hotSpots[[2]int{x, y}] {
			loop = hotSpotFactor
		}
		sum := 0.0
		for i := 1; i < loop*iterations; i++ {
			sum += math.Cos(math.Exp(math.Cos(float64(i) / float64(iterations))))
		}
		return sum
	}
}

// Constant returns a cost function that always yields v.
func Constant(v float64) domain.CostFunc {
	return func(x, y int) float64 { return v }
}

// Linear returns x*a + y*b + c. Cheap and position dependent, which makes
// misrouted or double-counted tasks visible in sums.
func Linear(a, b, c float64) domain.CostFunc {
	return func(x, y int) float64 { return float64(x)*a + float64(y)*b + c }
}

// Options parameterizes the named cost functions.
type Options struct {
	HeavyIterations int
}

var registry = map[string]func(Options) domain.CostFunc{
	"heavy":    func(o Options) domain.CostFunc { return Heavy(o.HeavyIterations) },
	"constant": func(Options) domain.CostFunc { return Constant(1) },
	"linear":   func(Options) domain.CostFunc { return Linear(1000, 1, 0.5) },
}

// Lookup returns the named cost function.
func Lookup(name string, opts Options) (domain.CostFunc, error) {
	mk, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownCost)
	}
	return mk(opts), nil
}

// Names lists the registered cost functions.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
