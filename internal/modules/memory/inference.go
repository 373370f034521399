package memory

import (
	"context"

	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/types"
)

// InferenceConfig tunes automatic relationship inference on the create path.
type InferenceConfig struct {
	// Threshold is the minimum similarity score for an inferred edge.
	Threshold float64
	// TopK bounds how many edges are inferred per target type.
	TopK int
}

func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{Threshold: 0.75, TopK: 3}
}

// inferRelationships builds the knowledge graph without user-specified
// links: the new memory's vector is searched against every OTHER
// graph-eligible type's collection, and each match at or above the threshold
// becomes a typed edge per the inference table. Failures are logged and
// skipped; inference never fails a create.
func (s *Service) inferRelationships(ctx context.Context, mem *types.Memory) {
	for _, target := range types.GraphEligibleTypes() {
		if target == mem.Type {
			continue
		}
		hits, err := s.vectors.Search(ctx, mem.ProjectID, []types.MemoryType{target}, mem.Vector, s.inference.TopK, vector.SearchOptions{
			ExcludeID: mem.ID,
		})
		if err != nil {
			s.log.Warn("inference search failed",
				"project_id", mem.ProjectID,
				"memory_id", mem.ID,
				"target_type", target,
				"error", err,
			)
			continue
		}
		label := types.InferRelationship(mem.Type, target)
		for _, hit := range hits {
			if hit.Score < s.inference.Threshold {
				continue
			}
			err := s.graphs.CreateRelationship(ctx, mem.ProjectID, mem.ID, label, hit.Memory.ID, map[string]any{
				"auto":  true,
				"score": hit.Score,
			})
			if err != nil {
				s.log.Warn("inferred relationship create failed",
					"project_id", mem.ProjectID,
					"memory_id", mem.ID,
					"relationship", label,
					"target_id", hit.Memory.ID,
					"error", err,
				)
			}
		}
	}
}
