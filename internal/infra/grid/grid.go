// Package grid enumerates a square task space in row-major order.
package grid

import (
	"fmt"
	"math"

	"github.com/tutu-network/gridpool/internal/domain"
)

// Space is a size×size grid. Index i maps to (i/size, i%size).
type Space struct {
	size int
}

// New returns the grid of the given side length.
func New(size int) (Space, error) {
	if size < 1 {
		return Space{}, fmt.Errorf("size %d: %w", size, domain.ErrInvalidGrid)
	}
	if size > math.MaxInt/size {
		return Space{}, fmt.Errorf("size %d: task count overflows int: %w", size, domain.ErrInvalidGrid)
	}
	return Space{size: size}, nil
}

// Size returns the side length.
func (s Space) Size() int { return s.size }

// Len returns size².
func (s Space) Len() int { return s.size * s.size }

// At returns the task at linear index i.
func (s Space) At(i int) domain.Task {
	return domain.Task{Index: i, X: i / s.size, Y: i % s.size}
}

// Row returns the half-open index range [lo, hi) covering row x.
func (s Space) Row(x int) (lo, hi int) {
	return x * s.size, (x + 1) * s.size
}
