package retrieval_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/nexus/internal/retrieval"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	dim     int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[text], nil
}

func (s *stubEmbedder) Dimensions() int  { return s.dim }
func (s *stubEmbedder) GetModel() string { return "stub" }

func TestDimensionGuard_PinsFirstDimension(t *testing.T) {
	inner := &stubEmbedder{vectors: map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1},
	}}
	g := retrieval.NewDimensionGuard(inner, 0)
	assert.Equal(t, 0, g.Dimensions())

	vec, err := g.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 3, g.Dimensions())

	_, err = g.Embed(context.Background(), "b")
	assert.ErrorIs(t, err, retrieval.ErrDimensionMismatch)
}

func TestDimensionGuard_ConfiguredDimension(t *testing.T) {
	inner := &stubEmbedder{vectors: map[string][]float32{"a": {1, 0, 0}}}
	g := retrieval.NewDimensionGuard(inner, 4)

	_, err := g.Embed(context.Background(), "a")
	assert.ErrorIs(t, err, retrieval.ErrDimensionMismatch)
	assert.Equal(t, 4, g.Dimensions())
}

func TestDimensionGuard_WrapsProviderErrors(t *testing.T) {
	cause := errors.New("connection refused")
	g := retrieval.NewDimensionGuard(&stubEmbedder{err: cause}, 3)

	_, err := g.Embed(context.Background(), "a")
	assert.ErrorIs(t, err, retrieval.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestDimensionGuard_RejectsBadVectors(t *testing.T) {
	inner := &stubEmbedder{vectors: map[string][]float32{
		"empty": {},
		"nan":   {1, float32(math.NaN())},
		"inf":   {float32(math.Inf(1)), 0},
	}}
	g := retrieval.NewDimensionGuard(inner, 2)

	for _, text := range []string{"empty", "nan", "inf", "missing"} {
		_, err := g.Embed(context.Background(), text)
		assert.ErrorIs(t, err, retrieval.ErrEmbeddingUnavailable, text)
	}
}

func TestDimensionGuard_DelegatesModel(t *testing.T) {
	inner := &stubEmbedder{dim: 8}
	g := retrieval.NewDimensionGuard(inner, 0)
	assert.Equal(t, "stub", g.GetModel())
	assert.Equal(t, 8, g.Dimensions())
	assert.Same(t, inner, g.Unwrap())
}
