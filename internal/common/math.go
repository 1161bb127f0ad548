package common

import (
	"math"

	"golang.org/x/exp/constraints"
)

func Abs[T constraints.Float](v T) T {
	return T(math.Abs(float64(v)))
}

// WithinTolerance reports whether value lies in [target-tolerance, target+tolerance].
func WithinTolerance[T constraints.Float](value, target, tolerance T) bool {
	return Abs(value-target) <= tolerance
}

// AtLeast reports whether value reached target, allowing it to fall short by tolerance.
func AtLeast[T constraints.Float](value, target, tolerance T) bool {
	return value >= target-tolerance
}
