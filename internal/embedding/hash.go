package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder produces deterministic vectors without a model. Each token is
// hashed to a pseudo-random direction and the directions are summed, so texts
// sharing words score higher than unrelated texts. Useful for tests and
// offline development.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of length dim
// (default 384).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dimensions: dim}
}

// Embed returns the unit-length vector for text. Text without any word
// characters maps to the zero vector.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dimensions)
	for _, tok := range tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		seed := f.Sum64()
		for i := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float64(int64(seed)) / math.MaxInt64
		}
	}
	return normalize(vec), nil
}

// Dimensions returns the vector length.
func (h *HashEmbedder) Dimensions() int { return h.dimensions }

// GetModel identifies the hash embedder in stored records.
func (h *HashEmbedder) GetModel() string { return "hash-fnv64a" }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float64) []float32 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
