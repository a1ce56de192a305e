// Package embedding provides the Embedder implementations: remote Ollama and
// OpenAI-compatible APIs, in-process ONNX inference and a deterministic hash
// embedder.
package embedding

import (
	"fmt"
	"log/slog"

	"github.com/scrypster/nexus/internal/config"
	"github.com/scrypster/nexus/internal/retrieval"
)

// New creates the embedder selected by cfg.Provider. The result is not yet
// dimension-guarded; wrap it with retrieval.NewDimensionGuard.
func New(cfg config.EmbeddingConfig, logger *slog.Logger) (retrieval.Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimension,
			Timeout:    cfg.Timeout,
			Logger:     logger,
		}), nil
	case "openai":
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimension,
			Timeout:    cfg.Timeout,
			Logger:     logger,
		}), nil
	case "onnx":
		e, err := NewONNXEmbedder(ONNXConfig{
			ModelPath:     cfg.ONNXModelPath,
			TokenizerPath: cfg.ONNXTokenizerPath,
			LibraryPath:   cfg.ONNXLibraryPath,
			ModelName:     cfg.Model,
			Dimensions:    cfg.Dimension,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
