package retrieval

import (
	"fmt"
	"math"
)

// CosineSimilarity returns dot(a,b) / (|a| * |b|), accumulated in float64.
//
// A zero-magnitude vector on either side scores 0. Vectors of different
// lengths are an error. The result is clamped to [-1, 1].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case sim > 1:
		sim = 1
	case sim < -1:
		sim = -1
	}
	return sim, nil
}
