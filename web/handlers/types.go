package handlers

import (
	"time"

	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DeleteResponse is returned by DELETE /memories/{id}.
type DeleteResponse struct {
	OK bool `json:"ok"`
}

// SearchResult is one ranked hit of GET /memories/search. The memory fields
// are inlined so clients that expect a plain memory list keep working.
type SearchResult struct {
	types.Memory
	Similarity float64 `json:"similarity"`
}

// HealthResponse is returned by GET /health. Status is "degraded" when the
// embedder cannot be reached or its breaker is open.
type HealthResponse struct {
	Status       string                 `json:"status"`
	Version      string                 `json:"version"`
	Memories     int                    `json:"memories"`
	Model        string                 `json:"embedding_model"`
	Dimensions   int                    `json:"embedding_dimensions"`
	Embedder     *engine.EmbedderHealth `json:"embedder,omitempty"`
	LastSnapshot *time.Time             `json:"last_snapshot,omitempty"`
}
