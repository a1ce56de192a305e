package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/nexus/internal/embedding"
	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/seed"
	"github.com/scrypster/nexus/internal/storage"
	"github.com/scrypster/nexus/internal/storage/sqlite"
	"github.com/scrypster/nexus/pkg/types"
)

func newEngine(t *testing.T) *engine.MemoryEngine {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	eng, err := engine.NewMemoryEngine(store, embedding.NewHashEmbedder(32), engine.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestRun_SeedsEmptyStore(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	n, err := seed.Run(ctx, eng, seed.Defaults(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	page, err := eng.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	for _, m := range page.Items {
		assert.True(t, m.HasEmbedding(), "memory %d has no embedding", m.ID)
	}
	assert.Equal(t, "moneytrust", page.Items[0].AgentID)
	assert.Equal(t, 9, page.Items[1].ImportanceScore)
	assert.Equal(t, "diet", page.Items[2].Category)

	// seeded memories are searchable
	matches, err := eng.Search(ctx, engine.SearchRequest{Query: "spicy food", TopK: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "personal", matches[0].Memory.AgentID)
}

func TestRun_SkipsNonEmptyStore(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	_, err := eng.Create(ctx, types.CreateMemoryRequest{AgentID: "a", Content: "existing", ImportanceScore: 5})
	require.NoError(t, err)

	n, err := seed.Run(ctx, eng, seed.Defaults(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := eng.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memories:
  - agent_id: moneytrust
    content: NVIDIA stock prices drop before earnings calls
    category: stocks
    importance_score: 8
  - agent_id: personal
    content: User prefers spicy food
    importance_score: 7
`), 0o600))

	memories, err := seed.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "stocks", memories[0].Category)
	assert.Equal(t, types.DefaultCategory, memories[1].Category)
}

func TestLoadFile_RejectsInvalidMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memories:
  - agent_id: a
    content: too important
    importance_score: 11
`), 0o600))

	_, err := seed.LoadFile(path)
	assert.ErrorIs(t, err, types.ErrValidation)
}
