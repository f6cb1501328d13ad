// Package stats has small numeric helpers over slices.
package stats

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Float | constraints.Integer
}

// Returns the mean of the given samples, or zero if there are none.
func Mean[T Number](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// Argmax returns the index of the largest element. Ties resolve to the lowest index.
// Returns -1 for an empty slice.
func Argmax[T constraints.Ordered](src []T) int {
	if len(src) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(src); i++ {
		if src[i] > src[best] {
			best = i
		}
	}
	return best
}

// IsFinite is false for NaN and +-Inf
func IsFinite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

// FirstNonFinite returns the index of the first non-finite value, or -1
func FirstNonFinite(src []float32) int {
	for i, v := range src {
		if !IsFinite(v) {
			return i
		}
	}
	return -1
}
