package retrieval

import (
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/nexus/pkg/types"
)

// Candidate is a stored memory eligible for ranking.
type Candidate struct {
	Memory *types.Memory
	Vector []float32
}

// CandidatesFrom builds candidates from memories, skipping any without a vector.
func CandidatesFrom(memories []types.Memory) []Candidate {
	out := make([]Candidate, 0, len(memories))
	for i := range memories {
		if !memories[i].HasEmbedding() {
			continue
		}
		out = append(out, Candidate{Memory: &memories[i], Vector: memories[i].Embedding})
	}
	return out
}

// Match is a ranked candidate.
type Match struct {
	Memory     *types.Memory `json:"memory"`
	Similarity float64       `json:"similarity"`
}

// RankOptions controls Rank.
type RankOptions struct {
	// K is the maximum number of matches returned. Must be at least 1.
	K int

	// MinSimilarity, when set, drops candidates whose similarity does not
	// strictly exceed it. Must lie in [0, 1].
	MinSimilarity *float64
}

// Validate checks the option ranges.
func (o RankOptions) Validate() error {
	if o.K < 1 {
		return fmt.Errorf("%w: k must be at least 1, got %d", ErrInvalidArgument, o.K)
	}
	if o.MinSimilarity != nil {
		t := *o.MinSimilarity
		if math.IsNaN(t) || t < 0 || t > 1 {
			return fmt.Errorf("%w: min_similarity must be in [0, 1], got %v", ErrInvalidArgument, t)
		}
	}
	return nil
}

// Rank scores every candidate against query and returns at most K matches in
// descending similarity. Candidates with equal scores keep their input order.
// The threshold is applied before truncation. Any dimension mismatch fails
// the whole call.
func Rank(query []float32, candidates []Candidate, opts RankOptions) ([]Match, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	scored := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			id := int64(-1)
			if c.Memory != nil {
				id = c.Memory.ID
			}
			return nil, fmt.Errorf("candidate %d (memory %d): %w", i, id, err)
		}
		scored = append(scored, Match{Memory: c.Memory, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if opts.MinSimilarity != nil {
		threshold := *opts.MinSimilarity
		kept := scored[:0]
		for _, m := range scored {
			if m.Similarity > threshold {
				kept = append(kept, m)
			}
		}
		scored = kept
	}

	if len(scored) > opts.K {
		scored = scored[:opts.K]
	}
	return scored, nil
}
