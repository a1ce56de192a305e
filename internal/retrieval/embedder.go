// Package retrieval implements embedding-based semantic retrieval: the
// embedder contract, cosine similarity scoring and top-k ranking.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrEmbeddingUnavailable is returned when the embedder cannot produce a vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrDimensionMismatch is returned when two vectors that must share a
	// dimension do not.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidArgument is returned for out-of-range ranking parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Embedder maps text to a fixed-dimension vector.
//
// Implementations must be deterministic for a given model: the same text
// yields the same vector (up to floating-point noise).
type Embedder interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length, or 0 if it is not known until the
	// first call.
	Dimensions() int

	// GetModel returns the model name recorded alongside stored vectors.
	GetModel() string
}

// DimensionGuard wraps an Embedder and pins the vector dimension for the
// lifetime of the process.
type DimensionGuard struct {
	inner Embedder

	mu  sync.RWMutex
	dim int
}

// NewDimensionGuard wraps inner. If dim is 0 the inner embedder's declared
// dimension is used, and failing that the length of the first vector.
func NewDimensionGuard(inner Embedder, dim int) *DimensionGuard {
	if dim <= 0 {
		dim = inner.Dimensions()
	}
	return &DimensionGuard{inner: inner, dim: dim}
}

// Embed returns the inner embedder's vector after checking its shape.
// Every failure is reported as ErrEmbeddingUnavailable or ErrDimensionMismatch.
func (g *DimensionGuard) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.inner.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embedder returned an empty vector", ErrEmbeddingUnavailable)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite value at index %d", ErrEmbeddingUnavailable, i)
		}
	}

	g.mu.RLock()
	dim := g.dim
	g.mu.RUnlock()

	if dim == 0 {
		g.mu.Lock()
		if g.dim == 0 {
			g.dim = len(vec)
		}
		dim = g.dim
		g.mu.Unlock()
	}

	if len(vec) != dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(vec))
	}
	return vec, nil
}

// Dimensions returns the pinned dimension, or 0 before the first vector when
// none was configured.
func (g *DimensionGuard) Dimensions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dim
}

// GetModel returns the inner embedder's model name.
func (g *DimensionGuard) GetModel() string {
	return g.inner.GetModel()
}

// Unwrap returns the wrapped embedder.
func (g *DimensionGuard) Unwrap() Embedder {
	return g.inner
}
