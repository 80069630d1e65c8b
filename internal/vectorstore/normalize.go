package vectorstore

import (
	"github.com/viant/vec/search"
)

// Normalize returns a unit-length copy of v so that inner product equals
// cosine similarity. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	mag := float64(search.Float32s(v).Magnitude())
	if mag == 0 {
		return out
	}
	inv := float32(1 / mag)
	for i := range out {
		out[i] *= inv
	}
	return out
}

// dot returns the inner product of a and b, which must have equal length.
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
