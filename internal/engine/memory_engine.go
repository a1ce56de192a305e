// Package engine implements the memory lifecycle and semantic search on top
// of a storage.MemoryStore and a retrieval.Embedder.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/nexus/internal/retrieval"
	"github.com/scrypster/nexus/internal/storage"
	"github.com/scrypster/nexus/pkg/types"
)

// MemoryEngine validates, embeds and persists memories and answers semantic
// searches. It holds no index; every search reads the current candidate set.
type MemoryEngine struct {
	config   Config
	store    storage.MemoryStore
	embedder retrieval.Embedder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	onChange func(Event)
}

// NewMemoryEngine creates an engine. The embedder should already be wrapped
// in a retrieval.DimensionGuard; NewMemoryEngine wraps it if not.
func NewMemoryEngine(store storage.MemoryStore, embedder retrieval.Embedder, cfg Config, logger *slog.Logger) (*MemoryEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := embedder.(*retrieval.DimensionGuard); !ok {
		embedder = retrieval.NewDimensionGuard(embedder, 0)
	}

	return &MemoryEngine{
		config:   cfg,
		store:    store,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetOnChange registers a callback fired after each committed mutation.
func (e *MemoryEngine) SetOnChange(callback func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = callback
}

func (e *MemoryEngine) emit(evt Event) {
	e.mu.RLock()
	cb := e.onChange
	e.mu.RUnlock()
	if cb != nil {
		cb(evt)
	}
}

// Create validates req, embeds its content and persists the new memory.
// Nothing is stored if validation or embedding fails.
func (e *MemoryEngine) Create(ctx context.Context, req types.CreateMemoryRequest) (*types.Memory, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, req.Content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	memory := req.NewMemory()
	memory.Embedding = vec
	memory.EmbeddingModel = e.embedder.GetModel()
	now := types.Timestamp(e.now())
	memory.CreatedAt = now
	memory.UpdatedAt = now

	if err := e.store.Create(ctx, memory); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}

	e.logger.Info("memory created",
		"id", memory.ID, "agent_id", memory.AgentID, "category", memory.Category)
	e.emit(Event{Type: EventCreated, MemoryID: memory.ID, Memory: memory, At: now})
	return memory, nil
}

// Get returns the memory with id, or storage.ErrNotFound.
func (e *MemoryEngine) Get(ctx context.Context, id int64) (*types.Memory, error) {
	return e.store.Get(ctx, id)
}

// List returns a page of memories ordered by id.
func (e *MemoryEngine) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	return e.store.List(ctx, opts)
}

// Update applies the supplied fields of u to memory id. UpdatedAt always
// advances. When the content changes and ReembedOnUpdate is set, the
// embedding is recomputed before anything is written.
func (e *MemoryEngine) Update(ctx context.Context, id int64, u types.MemoryUpdate) (*types.Memory, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	memory, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged, err := u.Apply(memory)
	if err != nil {
		return nil, err
	}

	if contentChanged && e.config.ReembedOnUpdate {
		vec, err := e.embedder.Embed(ctx, memory.Content)
		if err != nil {
			return nil, fmt.Errorf("re-embed content: %w", err)
		}
		memory.Embedding = vec
		memory.EmbeddingModel = e.embedder.GetModel()
	}

	memory.UpdatedAt = types.NextUpdatedAt(memory.UpdatedAt, e.now())
	if err := e.store.Update(ctx, memory); err != nil {
		return nil, err
	}

	e.logger.Info("memory updated",
		"id", memory.ID, "fields", fieldNames(u.Fields()), "reembedded", contentChanged && e.config.ReembedOnUpdate)
	e.emit(Event{Type: EventUpdated, MemoryID: memory.ID, Memory: memory, At: memory.UpdatedAt})
	return memory, nil
}

// Delete permanently removes memory id, or returns storage.ErrNotFound.
func (e *MemoryEngine) Delete(ctx context.Context, id int64) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.logger.Info("memory deleted", "id", id)
	e.emit(Event{Type: EventDeleted, MemoryID: id, At: types.Timestamp(e.now())})
	return nil
}

// Search embeds req.Query and ranks every embedded memory by cosine
// similarity. Any failure aborts the search; partial results are never
// returned.
func (e *MemoryEngine) Search(ctx context.Context, req SearchRequest) ([]retrieval.Match, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrValidation)
	}

	k := req.TopK
	if k == 0 {
		k = e.config.DefaultTopK
	}
	if k < 1 || k > e.config.MaxTopK {
		return nil, fmt.Errorf("%w: top_k must be in [1, %d], got %d", retrieval.ErrInvalidArgument, e.config.MaxTopK, k)
	}
	opts := retrieval.RankOptions{K: k, MinSimilarity: req.MinSimilarity}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if e.config.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.SearchTimeout)
		defer cancel()
	}

	start := time.Now()

	query, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	memories, err := e.store.ListEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	matches, err := retrieval.Rank(query, retrieval.CandidatesFrom(memories), opts)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("search completed",
		"candidates", len(memories), "results", len(matches), "top_k", k,
		"duration", time.Since(start))
	return matches, nil
}

// EmbedderHealth checks the embedding backend. Remote providers are asked
// for their version and report their circuit breaker state.
func (e *MemoryEngine) EmbedderHealth(ctx context.Context) EmbedderHealth {
	inner := e.innerEmbedder()
	health := EmbedderHealth{Reachable: true}
	if b, ok := inner.(interface{ BreakerState() string }); ok {
		health.Breaker = b.BreakerState()
	}
	if hc, ok := inner.(interface{ HealthCheck(context.Context) error }); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			health.Reachable = false
			health.Error = err.Error()
		}
	}
	return health
}

func (e *MemoryEngine) innerEmbedder() retrieval.Embedder {
	if g, ok := e.embedder.(*retrieval.DimensionGuard); ok {
		return g.Unwrap()
	}
	return e.embedder
}

// Close releases the store and, when it holds resources, the embedder.
func (e *MemoryEngine) Close() error {
	var errs []error
	if c, ok := e.innerEmbedder().(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}

// Count returns the number of stored memories.
func (e *MemoryEngine) Count(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}

// EmbeddingModel returns the model name recorded with new vectors.
func (e *MemoryEngine) EmbeddingModel() string {
	return e.embedder.GetModel()
}

// EmbeddingDimensions returns the pinned vector length, or 0 before the
// first embedding when none was configured.
func (e *MemoryEngine) EmbeddingDimensions() int {
	return e.embedder.Dimensions()
}

func fieldNames(fields []types.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.String()
	}
	return out
}
