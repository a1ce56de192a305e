// Package storage defines the persistence contract for memories and the
// helpers shared by the SQLite and PostgreSQL backends.
package storage

import (
	"context"

	"github.com/scrypster/nexus/pkg/types"
)

// MemoryStore persists memories and their embeddings.
//
// Implementations must round-trip embeddings exactly and must never reuse an
// id after deletion.
type MemoryStore interface {
	// Create inserts memory and sets its ID. CreatedAt and UpdatedAt are set
	// to now when zero.
	Create(ctx context.Context, memory *types.Memory) error

	// Get retrieves a memory by ID.
	// Returns ErrNotFound if the memory does not exist.
	Get(ctx context.Context, id int64) (*types.Memory, error)

	// List returns memories matching opts, ordered by id ascending.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Memory], error)

	// Update overwrites the mutable fields, embedding and UpdatedAt of an
	// existing memory.
	// Returns ErrNotFound if the memory does not exist.
	Update(ctx context.Context, memory *types.Memory) error

	// Delete permanently removes a memory.
	// Returns ErrNotFound if the memory does not exist.
	Delete(ctx context.Context, id int64) error

	// ListEmbedded returns every memory that has an embedding, ordered by id
	// ascending. This is the candidate set for semantic search.
	ListEmbedded(ctx context.Context) ([]types.Memory, error)

	// Count returns the total number of memories.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying connection.
	Close() error
}
