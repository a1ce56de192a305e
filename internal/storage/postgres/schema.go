// Package postgres provides a PostgreSQL implementation of storage.MemoryStore.
package postgres

// Schema contains the SQL statements to create the database schema for PostgreSQL.
// BIGSERIAL never hands out a sequence value twice, so ids are not reused.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                  BIGSERIAL PRIMARY KEY,
	agent_id            TEXT NOT NULL,
	content             TEXT NOT NULL,
	category            TEXT NOT NULL DEFAULT 'general',
	importance_score    INTEGER NOT NULL CHECK (importance_score BETWEEN 1 AND 10),
	embedding           BYTEA,
	embedding_dimension INTEGER NOT NULL DEFAULT 0,
	embedding_model     TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE INDEX IF NOT EXISTS idx_memories_agent_id ON memories(agent_id);
`

// MigrationPgvector adds the native vector column. The column is unsized so
// the store does not fix the embedding dimension at schema time. No ANN index
// is created; search is a full scan.
const MigrationPgvector = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
