package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/osok/project-memory/internal/platform/logger"
	"github.com/osok/project-memory/internal/platform/qdrant"
	"github.com/osok/project-memory/internal/types"
)

// ScrollOptions narrows a scroll to a deletion state and/or metadata equality
// conditions. Metadata keys are relative to the memory metadata map
// ("file_path" matches payload key "metadata.file_path").
type ScrollOptions struct {
	Deleted  *bool
	Metadata map[string]any
	Limit    int
	Offset   json.RawMessage
}

// ScrollPage is one page of a scroll. NextOffset nil means exhausted.
type ScrollPage struct {
	Memories   []*types.Memory
	NextOffset json.RawMessage
}

// SearchOptions adjusts a similarity search. By default soft-deleted
// memories are excluded.
type SearchOptions struct {
	IncludeDeleted bool
	// ExcludeID drops one memory id from the results server-side. Used by
	// deduplication so a point does not match itself.
	ExcludeID string
}

// Hit is one similarity search result. The memory carries no vector.
type Hit struct {
	Memory *types.Memory
	Score  float64
}

// Store is the vector-side adapter: one collection per (project, memory
// type), payload-encoded memories, soft delete via payload flag. The vector
// store is authoritative for content and embeddings.
//
// Every read treats a missing collection as "zero memories of this type",
// never as an error.
type Store interface {
	Upsert(ctx context.Context, mem *types.Memory) error
	UpsertBatch(ctx context.Context, mems []*types.Memory) error
	// Get returns nil when the point is absent or belongs to a different
	// project.
	Get(ctx context.Context, projectID string, t types.MemoryType, id string) (*types.Memory, error)
	Scroll(ctx context.Context, projectID string, t types.MemoryType, opts ScrollOptions) (ScrollPage, error)
	// Search merges per-collection results across the given types, sorted by
	// descending score and truncated to limit.
	Search(ctx context.Context, projectID string, ts []types.MemoryType, vector []float32, limit int, opts SearchOptions) ([]Hit, error)
	SoftDelete(ctx context.Context, projectID string, t types.MemoryType, id string) error
	HardDelete(ctx context.Context, projectID string, t types.MemoryType, id string) error
	// Count returns the number of active points, or all points when
	// includeDeleted is set.
	Count(ctx context.Context, projectID string, t types.MemoryType, includeDeleted bool) (int, error)
}

type store struct {
	log    *logger.Logger
	client *qdrant.Client
}

func NewStore(log *logger.Logger, client *qdrant.Client) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("qdrant client required")
	}
	return &store{
		log:    log.With("service", "VectorStore"),
		client: client,
	}, nil
}

func (s *store) Upsert(ctx context.Context, mem *types.Memory) error {
	if err := validateMemory(mem); err != nil {
		return err
	}
	collection := types.CollectionName(mem.ProjectID, mem.Type)
	point := qdrant.Point{
		ID:      mem.ID,
		Vector:  mem.Vector,
		Payload: payloadFromMemory(mem),
	}
	return s.client.Upsert(ctx, collection, []qdrant.Point{point})
}

func (s *store) UpsertBatch(ctx context.Context, mems []*types.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	// One upsert call per collection.
	grouped := map[string][]qdrant.Point{}
	order := []string{}
	for _, mem := range mems {
		if err := validateMemory(mem); err != nil {
			return err
		}
		collection := types.CollectionName(mem.ProjectID, mem.Type)
		if _, seen := grouped[collection]; !seen {
			order = append(order, collection)
		}
		grouped[collection] = append(grouped[collection], qdrant.Point{
			ID:      mem.ID,
			Vector:  mem.Vector,
			Payload: payloadFromMemory(mem),
		})
	}
	for _, collection := range order {
		if err := s.client.Upsert(ctx, collection, grouped[collection]); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) Get(ctx context.Context, projectID string, t types.MemoryType, id string) (*types.Memory, error) {
	collection := types.CollectionName(projectID, t)
	points, err := s.client.GetPoints(ctx, collection, []string{id})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	mem := memoryFromPoint(points[0])
	// Guard against cross-tenant reads through id guessing: the payload's
	// project must match the collection the caller asked for.
	if mem.ProjectID != projectID {
		s.log.Warn("vector point project mismatch",
			"collection", collection,
			"point_project_id", mem.ProjectID,
		)
		return nil, nil
	}
	return mem, nil
}

func (s *store) Scroll(ctx context.Context, projectID string, t types.MemoryType, opts ScrollOptions) (ScrollPage, error) {
	collection := types.CollectionName(projectID, t)
	conditions := map[string]any{}
	if opts.Deleted != nil {
		conditions["deleted"] = *opts.Deleted
	}
	for key, value := range opts.Metadata {
		conditions["metadata."+key] = value
	}
	res, err := s.client.Scroll(ctx, collection, qdrant.MatchFilter(conditions), opts.Limit, opts.Offset)
	if err != nil {
		return ScrollPage{}, err
	}
	page := ScrollPage{NextOffset: res.NextOffset}
	for _, p := range res.Points {
		page.Memories = append(page.Memories, memoryFromPoint(p))
	}
	return page, nil
}

func (s *store) Search(ctx context.Context, projectID string, ts []types.MemoryType, vec []float32, limit int, opts SearchOptions) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	conditions := map[string]any{}
	if !opts.IncludeDeleted {
		conditions["deleted"] = false
	}
	exclusions := map[string]any{}
	if opts.ExcludeID != "" {
		exclusions["memory_id"] = opts.ExcludeID
	}
	filter := qdrant.MatchFilterExcluding(conditions, exclusions)

	var hits []Hit
	for _, t := range ts {
		collection := types.CollectionName(projectID, t)
		points, err := s.client.Search(ctx, collection, vec, limit, filter)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			hits = append(hits, Hit{Memory: memoryFromPoint(p), Score: p.Score})
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

func (s *store) SoftDelete(ctx context.Context, projectID string, t types.MemoryType, id string) error {
	collection := types.CollectionName(projectID, t)
	return s.client.SetPayload(ctx, collection, []string{id}, map[string]any{
		"deleted":    true,
		"updated_at": types.Timestamp(time.Now()),
	})
}

func (s *store) HardDelete(ctx context.Context, projectID string, t types.MemoryType, id string) error {
	collection := types.CollectionName(projectID, t)
	return s.client.DeletePoints(ctx, collection, []string{id})
}

func (s *store) Count(ctx context.Context, projectID string, t types.MemoryType, includeDeleted bool) (int, error) {
	collection := types.CollectionName(projectID, t)
	var filter map[string]any
	if !includeDeleted {
		filter = qdrant.MatchFilter(map[string]any{"deleted": false})
	}
	return s.client.Count(ctx, collection, filter)
}

func validateMemory(mem *types.Memory) error {
	if mem == nil {
		return fmt.Errorf("memory is nil")
	}
	if mem.ID == "" {
		return fmt.Errorf("memory id is required")
	}
	if !types.ValidType(mem.Type) {
		return fmt.Errorf("unknown memory type %q", mem.Type)
	}
	if err := types.ValidateProjectID(mem.ProjectID); err != nil {
		return err
	}
	if len(mem.Vector) == 0 {
		return fmt.Errorf("memory %s has no vector", mem.ID)
	}
	return nil
}

func payloadFromMemory(mem *types.Memory) map[string]any {
	payload := map[string]any{
		"memory_id":  mem.ID,
		"type":       string(mem.Type),
		"project_id": mem.ProjectID,
		"content":    mem.Content,
		"created_at": mem.CreatedAt,
		"updated_at": mem.UpdatedAt,
		"deleted":    mem.Deleted,
	}
	if len(mem.Metadata) > 0 {
		payload["metadata"] = mem.Metadata
	}
	return payload
}

func memoryFromPoint(p qdrant.Point) *types.Memory {
	mem := &types.Memory{
		ID:     p.ID,
		Vector: p.Vector,
	}
	if p.Payload == nil {
		return mem
	}
	if v, ok := p.Payload["memory_id"].(string); ok && v != "" {
		mem.ID = v
	}
	if v, ok := p.Payload["type"].(string); ok {
		mem.Type = types.MemoryType(v)
	}
	if v, ok := p.Payload["project_id"].(string); ok {
		mem.ProjectID = v
	}
	if v, ok := p.Payload["content"].(string); ok {
		mem.Content = v
	}
	if v, ok := p.Payload["created_at"].(string); ok {
		mem.CreatedAt = v
	}
	if v, ok := p.Payload["updated_at"].(string); ok {
		mem.UpdatedAt = v
	}
	if v, ok := p.Payload["deleted"].(bool); ok {
		mem.Deleted = v
	}
	if v, ok := p.Payload["metadata"].(map[string]any); ok {
		mem.Metadata = v
	}
	return mem
}
