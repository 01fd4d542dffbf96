package graph

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// hashUnit maps (salt, key) to [0, 1). Every pseudo-random placement in the
// package goes through here so positions depend on keys only.
func hashUnit(key, salt string) float64 {
	d := xxhash.New()
	_, _ = d.WriteString(salt)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(key)
	return float64(d.Sum64()>>11) / (1 << 53)
}

const (
	fallbackMinRadius = 80.0
	fallbackMaxRadius = 420.0
)

// fallbackPosition places a node on a disc using only its key.
func fallbackPosition(key string) (float64, float64) {
	angle := 2 * math.Pi * hashUnit(key, "angle")
	r := fallbackMinRadius + (fallbackMaxRadius-fallbackMinRadius)*math.Sqrt(hashUnit(key, "radius"))
	return r * math.Cos(angle), r * math.Sin(angle)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
