// Package handlers provides the HTTP handlers and middleware of the Nexus API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/logging"
	"github.com/scrypster/nexus/internal/retrieval"
	"github.com/scrypster/nexus/internal/storage"
	"github.com/scrypster/nexus/pkg/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// MemoryService is the subset of engine.MemoryEngine the handlers need.
type MemoryService interface {
	Create(ctx context.Context, req types.CreateMemoryRequest) (*types.Memory, error)
	Get(ctx context.Context, id int64) (*types.Memory, error)
	List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error)
	Update(ctx context.Context, id int64, u types.MemoryUpdate) (*types.Memory, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, req engine.SearchRequest) ([]retrieval.Match, error)
	Count(ctx context.Context) (int, error)
	EmbeddingModel() string
	EmbeddingDimensions() int
}

// embedderChecker is implemented by engine.MemoryEngine.
type embedderChecker interface {
	EmbedderHealth(ctx context.Context) engine.EmbedderHealth
}

// SnapshotReporter reports when the last database snapshot finished; a zero
// time means none has been taken yet.
type SnapshotReporter interface {
	LastSnapshot() time.Time
}

// healthCheckTimeout bounds the embedder check made by /health.
const healthCheckTimeout = 2 * time.Second

// MemoryHandlers serves the /memories routes.
type MemoryHandlers struct {
	service   MemoryService
	snapshots SnapshotReporter
	logger    *slog.Logger
}

// NewMemoryHandlers creates handlers backed by service.
func NewMemoryHandlers(service MemoryService, logger *slog.Logger) *MemoryHandlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryHandlers{service: service, logger: logger}
}

// SetSnapshots makes /health report the last snapshot taken by r.
func (h *MemoryHandlers) SetSnapshots(r SnapshotReporter) {
	h.snapshots = r
}

// CreateMemory handles POST /memories/ - embed and store a new memory.
func (h *MemoryHandlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req types.CreateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	memory, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "failed to create memory", err)
		return
	}

	respondJSON(w, http.StatusCreated, memory)
}

// ListMemories handles GET /memories/ - list memories with filtering and pagination.
// Query parameters: offset, limit (default 100), category, agent_id, q (content substring).
// The total number of matches is returned in the X-Total-Count header.
func (h *MemoryHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	offset, err := parseInt(query.Get("offset"), 0)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "offset must be a non-negative integer", err)
		return
	}
	limit, err := parseInt(query.Get("limit"), storage.DefaultListLimit)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "limit must be a non-negative integer", err)
		return
	}

	opts := storage.ListOptions{
		Offset:   offset,
		Limit:    limit,
		Category: query.Get("category"),
		AgentID:  query.Get("agent_id"),
		Query:    query.Get("q"),
	}
	// the store reads a zero limit as the default page; limit=0 only wants the total
	if limit == 0 {
		opts.Limit = 1
	}

	result, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "failed to list memories", err)
		return
	}

	items := result.Items
	if items == nil || limit == 0 {
		items = []types.Memory{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	respondJSON(w, http.StatusOK, items)
}

// SearchMemories handles GET /memories/search - rank memories by cosine
// similarity to q. Query parameters: q (required), top_k, min_similarity.
func (h *MemoryHandlers) SearchMemories(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := engine.SearchRequest{Query: query.Get("q")}

	if raw := query.Get("top_k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "top_k must be an integer", err)
			return
		}
		// zero means "default" to the engine, so an explicit zero is rejected here
		if k < 1 {
			h.fail(w, r, "invalid search parameters",
				fmt.Errorf("%w: top_k must be at least 1, got %d", retrieval.ErrInvalidArgument, k))
			return
		}
		req.TopK = k
	}
	if raw := query.Get("min_similarity"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "min_similarity must be a number", err)
			return
		}
		req.MinSimilarity = &v
	}

	matches, err := h.service.Search(r.Context(), req)
	if err != nil {
		h.fail(w, r, "search failed", err)
		return
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{Memory: *m.Memory, Similarity: m.Similarity})
	}
	respondJSON(w, http.StatusOK, results)
}

// GetMemory handles GET /memories/{id} - get a single memory.
func (h *MemoryHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	id, err := extractID(r, "id")
	if err != nil {
		h.fail(w, r, "invalid memory id", err)
		return
	}

	memory, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to get memory", err)
		return
	}

	respondJSON(w, http.StatusOK, memory)
}

// UpdateMemory handles PATCH /memories/{id} - update only the supplied fields.
func (h *MemoryHandlers) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	id, err := extractID(r, "id")
	if err != nil {
		h.fail(w, r, "invalid memory id", err)
		return
	}

	var update types.MemoryUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	memory, err := h.service.Update(r.Context(), id, update)
	if err != nil {
		h.fail(w, r, "failed to update memory", err)
		return
	}

	respondJSON(w, http.StatusOK, memory)
}

// DeleteMemory handles DELETE /memories/{id} - permanently delete a memory.
func (h *MemoryHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, err := extractID(r, "id")
	if err != nil {
		h.fail(w, r, "invalid memory id", err)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "failed to delete memory", err)
		return
	}

	respondJSON(w, http.StatusOK, DeleteResponse{OK: true})
}

// Health handles GET /health.
func (h *MemoryHandlers) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.Count(r.Context())
	if err != nil {
		h.fail(w, r, "storage unavailable", err)
		return
	}
	resp := HealthResponse{
		Status:     "healthy",
		Version:    Version,
		Memories:   count,
		Model:      h.service.EmbeddingModel(),
		Dimensions: h.service.EmbeddingDimensions(),
	}

	if c, ok := h.service.(embedderChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		embedder := c.EmbedderHealth(ctx)
		cancel()
		resp.Embedder = &embedder
		if !embedder.Reachable || embedder.Breaker == "open" {
			resp.Status = "degraded"
		}
	}
	if h.snapshots != nil {
		if last := h.snapshots.LastSnapshot(); !last.IsZero() {
			last = last.UTC()
			resp.LastSnapshot = &last
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// fail maps err to a status code, logs server-side failures and writes the
// error body.
func (h *MemoryHandlers) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			"method", r.Method, "path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()), "error", err)
	}
	respondError(w, status, message, err)
}

// statusFor translates domain errors into HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, retrieval.ErrInvalidArgument), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, retrieval.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions

// extractID parses an int64 path parameter from the request.
func extractID(r *http.Request, key string) (int64, error) {
	raw := r.PathValue(key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", types.ErrValidation, key, raw)
	}
	return id, nil
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
// parseInt parses a non-negative integer query parameter, returning
// defaultValue when it is absent.
func parseInt(s string, defaultValue int) (int, error) {
	if s == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if val < 0 {
		return 0, fmt.Errorf("got %d", val)
	}
	return val, nil
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers already sent
		logging.Default().Warn("failed to encode JSON response", "error", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
