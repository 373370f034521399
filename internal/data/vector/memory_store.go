package vector

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/osok/project-memory/internal/types"
)

// memStore is a process-local Store used by tests and vector-less local
// runs. Collections keep insertion order so scroll behavior is
// deterministic.
type memStore struct {
	mu          sync.RWMutex
	collections map[string][]*types.Memory
}

func NewMemoryStore() Store {
	return &memStore{collections: map[string][]*types.Memory{}}
}

func (s *memStore) Upsert(_ context.Context, mem *types.Memory) error {
	if err := validateMemory(mem); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(mem)
	return nil
}

func (s *memStore) UpsertBatch(_ context.Context, mems []*types.Memory) error {
	for _, mem := range mems {
		if err := validateMemory(mem); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mem := range mems {
		s.upsertLocked(mem)
	}
	return nil
}

func (s *memStore) upsertLocked(mem *types.Memory) {
	collection := types.CollectionName(mem.ProjectID, mem.Type)
	stored := cloneMemory(mem)
	for i, existing := range s.collections[collection] {
		if existing.ID == mem.ID {
			s.collections[collection][i] = stored
			return
		}
	}
	s.collections[collection] = append(s.collections[collection], stored)
}

func (s *memStore) Get(_ context.Context, projectID string, t types.MemoryType, id string) (*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mem := range s.collections[types.CollectionName(projectID, t)] {
		if mem.ID == id {
			if mem.ProjectID != projectID {
				return nil, nil
			}
			return cloneMemory(mem), nil
		}
	}
	return nil, nil
}

func (s *memStore) Scroll(_ context.Context, projectID string, t types.MemoryType, opts ScrollOptions) (ScrollPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*types.Memory
	for _, mem := range s.collections[types.CollectionName(projectID, t)] {
		if opts.Deleted != nil && mem.Deleted != *opts.Deleted {
			continue
		}
		if !metadataMatches(mem, opts.Metadata) {
			continue
		}
		matched = append(matched, mem)
	}

	start := 0
	if len(opts.Offset) > 0 {
		if err := json.Unmarshal(opts.Offset, &start); err != nil {
			return ScrollPage{}, err
		}
	}
	if start >= len(matched) {
		return ScrollPage{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := ScrollPage{}
	for _, mem := range matched[start:end] {
		page.Memories = append(page.Memories, cloneMemory(mem))
	}
	if end < len(matched) {
		next, _ := json.Marshal(end)
		page.NextOffset = next
	}
	return page, nil
}

func (s *memStore) Search(_ context.Context, projectID string, ts []types.MemoryType, vec []float32, limit int, opts SearchOptions) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []Hit
	for _, t := range ts {
		for _, mem := range s.collections[types.CollectionName(projectID, t)] {
			if mem.ID == opts.ExcludeID {
				continue
			}
			if mem.Deleted && !opts.IncludeDeleted {
				continue
			}
			hits = append(hits, Hit{Memory: cloneMemory(mem), Score: cosineSimilarity(vec, mem.Vector)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Memory.ID < hits[j].Memory.ID
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *memStore) SoftDelete(_ context.Context, projectID string, t types.MemoryType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mem := range s.collections[types.CollectionName(projectID, t)] {
		if mem.ID == id {
			mem.Deleted = true
			mem.UpdatedAt = types.Timestamp(time.Now())
			return nil
		}
	}
	return nil
}

func (s *memStore) HardDelete(_ context.Context, projectID string, t types.MemoryType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	collection := types.CollectionName(projectID, t)
	mems := s.collections[collection]
	for i, mem := range mems {
		if mem.ID == id {
			s.collections[collection] = append(mems[:i:i], mems[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) Count(_ context.Context, projectID string, t types.MemoryType, includeDeleted bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, mem := range s.collections[types.CollectionName(projectID, t)] {
		if mem.Deleted && !includeDeleted {
			continue
		}
		count++
	}
	return count, nil
}

func metadataMatches(mem *types.Memory, conditions map[string]any) bool {
	for key, want := range conditions {
		if mem.Metadata == nil || mem.Metadata[key] != want {
			return false
		}
	}
	return true
}

func cloneMemory(mem *types.Memory) *types.Memory {
	out := *mem
	if mem.Metadata != nil {
		out.Metadata = make(map[string]any, len(mem.Metadata))
		for k, v := range mem.Metadata {
			out.Metadata[k] = v
		}
	}
	if mem.Vector != nil {
		out.Vector = append([]float32(nil), mem.Vector...)
	}
	return &out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
