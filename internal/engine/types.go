package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/nexus/pkg/types"
)

// Config holds MemoryEngine settings.
type Config struct {
	// DefaultTopK is used when a search does not specify top_k (default: 5).
	DefaultTopK int

	// MaxTopK is the largest top_k a search may request (default: 20).
	MaxTopK int

	// ReembedOnUpdate recomputes the embedding when an update changes the
	// content (default: true). When false the stored vector keeps describing
	// the content at creation time.
	ReembedOnUpdate bool

	// SearchTimeout bounds a single search including the query embedding
	// (default: 10s). Zero disables the bound.
	SearchTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:     5,
		MaxTopK:         20,
		ReembedOnUpdate: true,
		SearchTimeout:   10 * time.Second,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.MaxTopK < 1 {
		return fmt.Errorf("MaxTopK must be >= 1, got %d", c.MaxTopK)
	}
	if c.DefaultTopK < 1 || c.DefaultTopK > c.MaxTopK {
		return fmt.Errorf("DefaultTopK must be in [1, %d], got %d", c.MaxTopK, c.DefaultTopK)
	}
	if c.SearchTimeout < 0 {
		return fmt.Errorf("SearchTimeout must be >= 0, got %v", c.SearchTimeout)
	}
	return nil
}

// SearchRequest is a semantic search over all embedded memories.
type SearchRequest struct {
	// Query is the free text to embed. Required.
	Query string

	// TopK caps the result count. Zero uses Config.DefaultTopK.
	TopK int

	// MinSimilarity, when set, keeps only matches scoring strictly above it.
	MinSimilarity *float64
}

// EventType names a memory mutation.
type EventType string

const (
	EventCreated EventType = "memory.created"
	EventUpdated EventType = "memory.updated"
	EventDeleted EventType = "memory.deleted"
)

// Event describes a committed mutation. Memory is nil for deletions.
type Event struct {
	Type     EventType     `json:"type"`
	MemoryID int64         `json:"memory_id"`
	Memory   *types.Memory `json:"memory,omitempty"`
	At       time.Time     `json:"at"`
}

// EmbedderHealth describes the embedding backend on /health. Backends that
// run in process are always reachable and carry no breaker.
type EmbedderHealth struct {
	Reachable bool   `json:"reachable"`
	Breaker   string `json:"breaker,omitempty"`
	Error     string `json:"error,omitempty"`
}
