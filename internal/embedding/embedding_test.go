package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/nexus/internal/config"
	"github.com/scrypster/nexus/internal/retrieval"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.Equal(t, "hello world", req.Input)

		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})
	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "all-minilm", e.GetModel())
	assert.Equal(t, "closed", e.BreakerState())
}

func TestOllamaEmbedder_ErrorsAndCircuitBreaker(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Timeout: time.Second})

	for i := 0; i < 3; i++ {
		_, err := e.Embed(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	}

	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "open circuit must not reach the server")
	assert.Equal(t, "open", e.BreakerState())
}

func TestOllamaEmbedder_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer server.Close()

	_, err := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL}).Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestOllamaEmbedder_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/version" {
			_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	assert.NoError(t, NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL}).HealthCheck(context.Background()))
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Dimensions)

		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,-0.5,0.25]}]}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, Dimensions: 3})
	vec, err := e.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5, 0.25}, vec)
	assert.Equal(t, "text-embedding-3-small", e.GetModel())
	assert.Equal(t, 3, e.Dimensions())
}

func TestHashEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "NVIDIA stock is rising")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "NVIDIA stock is rising")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	self, err := retrieval.CosineSimilarity(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, self, 1e-5)
}

func TestHashEmbedder_SharedWordsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "nvidia stock")
	related, _ := e.Embed(ctx, "User is interested in NVIDIA stock")
	unrelated, _ := e.Embed(ctx, "User dislikes spicy food")

	simRelated, err := retrieval.CosineSimilarity(query, related)
	require.NoError(t, err)
	simUnrelated, err := retrieval.CosineSimilarity(query, unrelated)
	require.NoError(t, err)
	assert.Greater(t, simRelated, simUnrelated)
}

func TestHashEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	vec, err := NewHashEmbedder(8).Embed(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)
}

func TestNew_SelectsProvider(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "hash", Dimension: 16}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)
	assert.Equal(t, 16, e.Dimensions())

	e, err = New(config.EmbeddingConfig{Provider: "ollama"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, e)

	e, err = New(config.EmbeddingConfig{Provider: "openai", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"}, nil)
	assert.Error(t, err)
}

func TestCircuitBreaker_TripsOnFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: "test", MaxFailures: 2})
	ctx := context.Background()

	_, err := cb.Execute(ctx, func() ([]float32, error) { return []float32{1}, nil })
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = cb.Execute(ctx, func() ([]float32, error) { return nil, errors.New("boom") })
		require.Error(t, err)
	}
	assert.Equal(t, "open", cb.State())

	_, err = cb.Execute(ctx, func() ([]float32, error) { return []float32{1}, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_CallerDeadlineIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: "test", MaxFailures: 2})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_, err := cb.Execute(ctx, func() ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, "closed", cb.State())
}

func TestOllamaEmbedder_CallerDeadlineKeepsBreakerClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 0}}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Timeout: time.Second})
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := e.Embed(ctx, "x")
		cancel()
		require.Error(t, err)
	}
	assert.Equal(t, "closed", e.BreakerState())

	vec, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
}

func TestOllamaEmbedder_OwnTimeoutTripsBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Timeout: 10 * time.Millisecond})
	for i := 0; i < 3; i++ {
		_, err := e.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, "open", e.BreakerState())
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() ([]float32, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, "closed", cb.State())
}
