package safe

import (
	"math"
)

// Uint64ToInt safely converts an uint64 value to int, clamping to math.MaxInt if overflow
// would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt(val uint64) (int, bool) {
	if val > math.MaxInt {
		return math.MaxInt, true
	}
	return int(val), false
}

// Delta returns a-b as a signed displacement using two's complement wrap-around,
// which is how an offset between two addresses is expressed in a pointer chain.
func Delta(a, b uint64) int64 {
	return int64(a - b)
}

// SaturatingSub returns a-b, or 0 when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// SaturatingAdd returns a+b, or math.MaxUint64 on overflow.
func SaturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
