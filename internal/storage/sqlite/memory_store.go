// Package sqlite implements storage.MemoryStore on top of modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/nexus/internal/storage"
	"github.com/scrypster/nexus/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db *sql.DB
}

var _ storage.MemoryStore = (*MemoryStore)(nil)

// NewMemoryStore opens dsn, configures WAL mode and creates the schema.
// Use ":memory:" for an ephemeral database.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serialises writes and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

const selectColumns = `
	id, agent_id, content, category, importance_score,
	embedding, embedding_dimension, embedding_model,
	created_at, updated_at
`

// Create inserts memory and assigns its ID.
func (s *MemoryStore) Create(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return fmt.Errorf("%w: memory is required", storage.ErrInvalidInput)
	}

	now := types.Timestamp(time.Now())
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = memory.CreatedAt
	}
	memory.CreatedAt = types.Timestamp(memory.CreatedAt)
	memory.UpdatedAt = types.Timestamp(memory.UpdatedAt)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			agent_id, content, category, importance_score,
			embedding, embedding_dimension, embedding_model,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.AgentID, memory.Content, memory.Category, memory.ImportanceScore,
		nullableBlob(storage.EncodeEmbedding(memory.Embedding)), len(memory.Embedding), memory.EmbeddingModel,
		memory.CreatedAt, memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert memory: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: failed to read inserted id: %w", err)
	}
	memory.ID = id
	return nil
}

// Get retrieves a memory by ID.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM memories WHERE id = ?", id)
	memory, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory %d: %w", id, err)
	}
	return memory, nil
}

// List returns one page of memories matching opts.
func (s *MemoryStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}
	if opts.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.Query != "" {
		// instr is case-sensitive, unlike LIKE.
		conditions = append(conditions, "instr(content, ?) > 0")
		args = append(args, opts.Query)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count memories: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM memories" + where + " ORDER BY id ASC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list memories: %w", err)
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[types.Memory]{
		Items:   items,
		Total:   total,
		Offset:  opts.Offset,
		Limit:   opts.Limit,
		HasMore: opts.Offset+len(items) < total,
	}, nil
}

// Update overwrites the mutable fields of an existing memory.
func (s *MemoryStore) Update(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return fmt.Errorf("%w: memory is required", storage.ErrInvalidInput)
	}
	memory.UpdatedAt = types.Timestamp(memory.UpdatedAt)

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET content = ?, category = ?, importance_score = ?,
		    embedding = ?, embedding_dimension = ?, embedding_model = ?,
		    updated_at = ?
		WHERE id = ?`,
		memory.Content, memory.Category, memory.ImportanceScore,
		nullableBlob(storage.EncodeEmbedding(memory.Embedding)), len(memory.Embedding), memory.EmbeddingModel,
		memory.UpdatedAt, memory.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update memory %d: %w", memory.ID, err)
	}
	return requireAffected(result)
}

// Delete permanently removes a memory.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete memory %d: %w", id, err)
	}
	return requireAffected(result)
}

// ListEmbedded returns every memory with an embedding, ordered by id.
func (s *MemoryStore) ListEmbedded(ctx context.Context) ([]types.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM memories WHERE embedding IS NOT NULL ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list embedded memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Count returns the total number of memories.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count memories: %w", err)
	}
	return n, nil
}

// GetDB returns the underlying database handle.
func (s *MemoryStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var blob []byte
	var dim int
	if err := row.Scan(
		&m.ID, &m.AgentID, &m.Content, &m.Category, &m.ImportanceScore,
		&blob, &dim, &m.EmbeddingModel,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	vec, err := storage.DecodeEmbedding(blob, dim)
	if err != nil {
		return nil, fmt.Errorf("sqlite: memory %d: %w", m.ID, err)
	}
	m.Embedding = vec
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]types.Memory, error) {
	items := make([]types.Memory, 0)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan memory: %w", err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration failed: %w", err)
	}
	return items, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nullableBlob maps an empty encoding to SQL NULL so that "no embedding"
// stays distinguishable from a zero-length vector.
func nullableBlob(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
