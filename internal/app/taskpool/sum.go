package taskpool

import "math"

// Sum is an order-independent float accumulator (Neumaier's variant of
// Kahan summation). The zero value is ready to use.
type Sum struct {
	sum  float64
	comp float64
}

// Add folds v into the sum.
func (s *Sum) Add(v float64) {
	t := s.sum + v
	if math.Abs(s.sum) >= math.Abs(v) {
		s.comp += (s.sum - t) + v
	} else {
		s.comp += (v - t) + s.sum
	}
	s.sum = t
}

// Value returns the compensated total.
func (s *Sum) Value() float64 {
	return s.sum + s.comp
}

// SumOf sums vs.
func SumOf(vs ...float64) float64 {
	var s Sum
	for _, v := range vs {
		s.Add(v)
	}
	return s.Value()
}

// Equal reports whether a and b agree to within relative tolerance tol.
func Equal(a, b, tol float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff <= tol
	}
	return diff <= tol*scale
}
