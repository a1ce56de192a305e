package storage

import (
	"errors"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// DefaultListLimit is used when ListOptions.Limit is not set.
	DefaultListLimit = 100

	// MaxListLimit caps ListOptions.Limit.
	MaxListLimit = 1000
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the number of items matching the filters across all pages.
	Total int

	// Offset is the number of matching items skipped before Items.
	Offset int

	// Limit is the page size that was applied.
	Limit int

	// HasMore indicates whether there are more items after this page.
	HasMore bool
}

// ListOptions provides pagination and filtering options for list operations.
// Results are always ordered by id ascending.
type ListOptions struct {
	// Offset is the number of matching rows to skip (default: 0).
	Offset int

	// Limit is the number of rows to return (default: 100, max: 1000).
	Limit int

	// Category filters by exact category. Empty means no filter.
	Category string

	// AgentID filters by owning agent. Empty means no filter.
	AgentID string

	// Query keeps only memories whose content contains it (case-sensitive).
	// Empty means no filter.
	Query string
}

// Normalize clamps pagination values into range.
func (o *ListOptions) Normalize() {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
}
