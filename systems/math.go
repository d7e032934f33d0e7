package systems

import "gonum.org/v1/gonum/spatial/r3"

// clampFloat clamps a value between min and max.
func clampFloat(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// clamp01 clamps a value to the [0, 1] range.
func clamp01(v float64) float64 {
	return clampFloat(v, 0, 1)
}

// clampMagnitude limits v to ±limit, keeping its sign.
func clampMagnitude(v, limit float64) float64 {
	if limit < 0 {
		limit = 0
	}
	return clampFloat(v, -limit, limit)
}

// resizeVecs returns s with length n, zeroing any newly exposed tail.
func resizeVecs(s []r3.Vec, n int) []r3.Vec {
	if cap(s) >= n {
		old := len(s)
		s = s[:n]
		if n > old {
			clear(s[old:])
		}
		return s
	}
	grown := make([]r3.Vec, n)
	copy(grown, s)
	return grown
}
