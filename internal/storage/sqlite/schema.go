package sqlite

// Schema creates the memories table. AUTOINCREMENT keeps ids from being
// reused after deletes.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id            TEXT NOT NULL,
	content             TEXT NOT NULL,
	category            TEXT NOT NULL DEFAULT 'general',
	importance_score    INTEGER NOT NULL CHECK (importance_score BETWEEN 1 AND 10),
	embedding           BLOB,
	embedding_dimension INTEGER NOT NULL DEFAULT 0,
	embedding_model     TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE INDEX IF NOT EXISTS idx_memories_agent_id ON memories(agent_id);
`
