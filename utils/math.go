package utils

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp limits value to the closed interval [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](value, lo, hi T) T {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// ModAngDeg returns the angle in degrees normalized to [0, 360).
func ModAngDeg(ang float64) float64 {
	return math.Mod(math.Mod(ang, 360)+360, 360)
}
