// Package seed loads sample memories into an empty store.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/nexus/internal/logging"
	"github.com/scrypster/nexus/pkg/types"
)

// Target is the part of engine.MemoryEngine used for seeding.
type Target interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, req types.CreateMemoryRequest) (*types.Memory, error)
}

// Defaults are the sample memories inserted by `nexus seed`.
func Defaults() []types.CreateMemoryRequest {
	return []types.CreateMemoryRequest{
		{
			AgentID:         "moneytrust",
			Content:         "NVIDIA stock prices drop before earnings calls",
			Category:        "stocks",
			ImportanceScore: 8,
		},
		{
			AgentID:         "sourcesage",
			Content:         "FastAPI CORS error: Add CORSMiddleware to app",
			Category:        "coding",
			ImportanceScore: 9,
		},
		{
			AgentID:         "personal",
			Content:         "User prefers spicy food, avoids gluten",
			Category:        "diet",
			ImportanceScore: 7,
		},
	}
}

// file is the YAML layout accepted by LoadFile.
type file struct {
	Memories []types.CreateMemoryRequest `yaml:"memories"`
}

// LoadFile reads seed memories from a YAML file of the form
//
//	memories:
//	  - agent_id: moneytrust
//	    content: ...
//	    category: stocks
//	    importance_score: 8
func LoadFile(path string) ([]types.CreateMemoryRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: failed to read %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: failed to parse %s: %w", path, err)
	}
	for i := range f.Memories {
		f.Memories[i].Normalize()
		if err := f.Memories[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed: memory %d: %w", i, err)
		}
	}
	return f.Memories, nil
}

// Run creates memories through target when it is empty and returns how many
// were inserted. A non-empty target is left untouched.
func Run(ctx context.Context, target Target, memories []types.CreateMemoryRequest, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = logging.Default()
	}

	count, err := target.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: count memories: %w", err)
	}
	if count > 0 {
		logger.Info("store already has data, skipping seed", "memories", count)
		return 0, nil
	}

	for i, req := range memories {
		memory, err := target.Create(ctx, req)
		if err != nil {
			return i, fmt.Errorf("seed: create memory %d: %w", i, err)
		}
		logger.Debug("seeded memory", "id", memory.ID, "agent_id", memory.AgentID)
	}

	logger.Info("seeded memories", "count", len(memories))
	return len(memories), nil
}
