package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the memories table and resets the id
// sequence. Exported so the postgres_test package can call it; only compiled
// into test binaries.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memories RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate memories: %w", err)
	}
	return nil
}
