package model

import "math"

// RateMbps converts a byte count and a duration into megabits per second.
// Durations that are zero, negative or NaN yield 0 so callers never see
// NaN or Inf.
func RateMbps(bytes uint64, seconds float64) float64 {
	if !(seconds > 0) {
		return 0
	}
	rate := float64(bytes) * 8 / (seconds * 1000 * 1000)
	if math.IsInf(rate, 0) || math.IsNaN(rate) {
		return 0
	}
	return rate
}
