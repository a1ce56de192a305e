// Package types defines the records shared by the storage, engine and HTTP layers.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultCategory is assigned when a memory is created without a category.
	DefaultCategory = "general"

	// MinImportance and MaxImportance bound ImportanceScore (inclusive).
	MinImportance = 1
	MaxImportance = 10
)

// ErrValidation is returned when a memory or update carries out-of-range or
// missing fields.
var ErrValidation = errors.New("validation failed")

// Memory represents a single agent memory record.
// Embedding is nil when no vector has been computed for the content.
type Memory struct {
	ID              int64     `json:"id"`
	AgentID         string    `json:"agent_id"`
	Content         string    `json:"content"`
	Category        string    `json:"category"`
	ImportanceScore int       `json:"importance_score"`
	Embedding       []float32 `json:"embedding"`
	EmbeddingModel  string    `json:"embedding_model,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the memory carries a vector.
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// Validate checks the invariants every persisted memory must hold.
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.AgentID) == "" {
		return fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if m.Category == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	return ValidateImportance(m.ImportanceScore)
}

// ValidateImportance checks that score lies in [MinImportance, MaxImportance].
func ValidateImportance(score int) error {
	if score < MinImportance || score > MaxImportance {
		return fmt.Errorf("%w: importance_score must be between %d and %d, got %d",
			ErrValidation, MinImportance, MaxImportance, score)
	}
	return nil
}

// CreateMemoryRequest carries the caller-supplied fields of a new memory.
type CreateMemoryRequest struct {
	AgentID         string `json:"agent_id" yaml:"agent_id"`
	Content         string `json:"content" yaml:"content"`
	Category        string `json:"category,omitempty" yaml:"category"`
	ImportanceScore int    `json:"importance_score" yaml:"importance_score"`
}

// Normalize fills in defaults for omitted optional fields.
func (r *CreateMemoryRequest) Normalize() {
	if strings.TrimSpace(r.Category) == "" {
		r.Category = DefaultCategory
	}
}

// Validate checks the request after Normalize has been applied.
func (r *CreateMemoryRequest) Validate() error {
	m := Memory{
		AgentID:         r.AgentID,
		Content:         r.Content,
		Category:        r.Category,
		ImportanceScore: r.ImportanceScore,
	}
	return m.Validate()
}

// NewMemory builds an unsaved Memory from the request.
func (r *CreateMemoryRequest) NewMemory() *Memory {
	return &Memory{
		AgentID:         r.AgentID,
		Content:         r.Content,
		Category:        r.Category,
		ImportanceScore: r.ImportanceScore,
	}
}

// Timestamp returns t in UTC truncated to the precision both storage
// backends preserve.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NextUpdatedAt returns a timestamp strictly after prev, using now when it is
// already later.
func NextUpdatedAt(prev, now time.Time) time.Time {
	next := Timestamp(now)
	if !next.After(prev) {
		next = Timestamp(prev).Add(time.Microsecond)
	}
	return next
}
