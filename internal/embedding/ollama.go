package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "all-minilm"
)

// OllamaConfig holds Ollama embedder configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model (default: all-minilm, i.e. all-MiniLM-L6-v2)
	Model string

	// Dimensions is the expected vector length; 0 means learn it from the first response.
	Dimensions int

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	Logger *slog.Logger
}

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
// Calls are wrapped with a circuit breaker.
type OllamaEmbedder struct {
	baseURL        string
	model          string
	dimensions     int
	timeout        time.Duration
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResponse holds one vector per input; a single input is sent.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama embedder, applying defaults for empty fields.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OllamaEmbedder{
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		dimensions:     cfg.Dimensions,
		timeout:        cfg.Timeout,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker("ollama-embed", cfg.Logger),
	}
}

// Embed returns the embedding of text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.circuitBreaker.Execute(ctx, func() ([]float32, error) {
		return e.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return vec, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, errors.New("ollama returned empty embedding vector")
	}
	return out.Embeddings[0], nil
}

// HealthCheck verifies that Ollama is reachable via /api/version.
// It bypasses the circuit breaker.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Dimensions returns the configured dimension, or 0 if unknown.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// GetModel returns the configured model name.
func (e *OllamaEmbedder) GetModel() string { return e.model }

// BreakerState exposes the circuit breaker state for health reporting.
func (e *OllamaEmbedder) BreakerState() string { return e.circuitBreaker.State() }
