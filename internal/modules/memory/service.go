package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osok/project-memory/internal/data/graph"
	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/platform/logger"
	"github.com/osok/project-memory/internal/platform/openai"
	"github.com/osok/project-memory/internal/types"
)

const (
	// contentSummaryRunes bounds the content excerpt mirrored into graph
	// node properties.
	contentSummaryRunes = 200

	defaultSearchLimit     = 10
	defaultSearchThreshold = 0.6
)

// RelationshipInput is an explicitly requested edge from the memory being
// written to an existing memory.
type RelationshipInput struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

type CreateInput struct {
	Type          types.MemoryType    `json:"type"`
	Content       string              `json:"content"`
	Metadata      map[string]any      `json:"metadata"`
	Relationships []RelationshipInput `json:"relationships"`
}

// UpdateInput carries partial changes. Nil Content leaves content alone; a
// non-nil Relationships slice REPLACES the memory's outgoing relationships
// (replace-not-append is deliberate and tested).
type UpdateInput struct {
	Content       *string             `json:"content"`
	Metadata      map[string]any      `json:"metadata"`
	Relationships []RelationshipInput `json:"relationships"`
}

type SearchInput struct {
	Query     string             `json:"query"`
	Types     []types.MemoryType `json:"types"`
	Limit     int                `json:"limit"`
	Threshold float64            `json:"threshold"`
}

type SearchHit struct {
	Memory *types.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

// Statistics aggregates both stores for one project.
type Statistics struct {
	MemoriesByType map[types.MemoryType]int `json:"memories_by_type"`
	TotalMemories  int                      `json:"total_memories"`
	Graph          *graph.Stats             `json:"graph,omitempty"`
}

// Service is the dual-store CRUD core. The vector store is written first and
// is authoritative; graph mirroring is best-effort and repaired later by
// normalization, so a graph-side failure never rolls back a vector write.
type Service struct {
	log       *logger.Logger
	vectors   vector.Store
	graphs    graph.Store
	embedder  openai.Embedder
	inference InferenceConfig
	retention SuiteRetentionConfig
}

func NewService(log *logger.Logger, vectors vector.Store, graphs graph.Store, embedder openai.Embedder) *Service {
	return &Service{
		log:       log.With("service", "MemoryService"),
		vectors:   vectors,
		graphs:    graphs,
		embedder:  embedder,
		inference: DefaultInferenceConfig(),
		retention: DefaultSuiteRetentionConfig(),
	}
}

// Vectors exposes the vector adapter to sibling modules (indexing,
// normalization) that operate below the CRUD surface.
func (s *Service) Vectors() vector.Store { return s.vectors }

// Graphs exposes the graph adapter to sibling modules.
func (s *Service) Graphs() graph.Store { return s.graphs }

// Embedder exposes the embedding provider to sibling modules.
func (s *Service) Embedder() openai.Embedder { return s.embedder }

// Create embeds the content, writes the vector point, and for graph-eligible
// types mirrors a graph node, creates the requested relationships, and infers
// additional ones from cross-type similarity.
func (s *Service) Create(ctx context.Context, projectID string, in CreateInput) (*types.Memory, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	if !types.ValidType(in.Type) {
		return nil, validationf("unsupported memory type %q", in.Type)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, validationf("content is required")
	}

	vec, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, err
	}

	now := types.Timestamp(time.Now())
	mem := &types.Memory{
		ID:        uuid.New().String(),
		Type:      in.Type,
		Content:   in.Content,
		Metadata:  in.Metadata,
		Vector:    vec,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.vectors.Upsert(ctx, mem); err != nil {
		return nil, err
	}

	if types.GraphEligible(mem.Type) && s.graphs.Available() {
		s.mirrorCreate(ctx, mem, in.Relationships)
	}

	if mem.Type == types.MemoryTypeTestResult {
		// Bound suite growth eagerly so a busy test suite cannot flood its
		// collection between maintenance runs.
		if _, _, err := s.applySuiteRetentionForMemory(ctx, mem, false); err != nil {
			s.log.Warn("eager suite retention failed", "project_id", projectID, "memory_id", mem.ID, "error", err)
		}
	}
	return mem, nil
}

// mirrorCreate performs the graph-side half of Create. Failures are logged,
// never propagated: orphan detection reconciles the stores later.
func (s *Service) mirrorCreate(ctx context.Context, mem *types.Memory, rels []RelationshipInput) {
	label := types.NodeLabel(mem.Type)
	if err := s.graphs.CreateNode(ctx, mem.ProjectID, label, mem.ID, s.nodeProps(mem)); err != nil {
		s.log.Warn("graph node create failed",
			"project_id", mem.ProjectID,
			"memory_id", mem.ID,
			"label", label,
			"error", err,
		)
		return
	}
	s.createExplicitRelationships(ctx, mem, rels)
	s.inferRelationships(ctx, mem)
}

func (s *Service) createExplicitRelationships(ctx context.Context, mem *types.Memory, rels []RelationshipInput) {
	for _, rel := range rels {
		if strings.TrimSpace(rel.Type) == "" || strings.TrimSpace(rel.TargetID) == "" {
			continue
		}
		err := s.graphs.CreateRelationship(ctx, mem.ProjectID, mem.ID, rel.Type, rel.TargetID, map[string]any{
			"auto": false,
		})
		if err != nil {
			s.log.Warn("explicit relationship create failed",
				"project_id", mem.ProjectID,
				"memory_id", mem.ID,
				"relationship", rel.Type,
				"target_id", rel.TargetID,
				"error", err,
			)
		}
	}
}

// Get returns an active memory. Soft-deleted memories are reachable only
// through maintenance paths, never here.
func (s *Service) Get(ctx context.Context, projectID string, t types.MemoryType, id string) (*types.Memory, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	if !types.ValidType(t) {
		return nil, validationf("unsupported memory type %q", t)
	}
	mem, err := s.vectors.Get(ctx, projectID, t, id)
	if err != nil {
		return nil, err
	}
	if mem == nil || mem.Deleted {
		return nil, ErrNotFound
	}
	return mem, nil
}

// Update applies partial changes. Content is re-embedded only when it
// actually changed; metadata merges shallowly; a non-nil Relationships slice
// replaces the node's outgoing edges.
func (s *Service) Update(ctx context.Context, projectID string, t types.MemoryType, id string, in UpdateInput) (*types.Memory, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	if !types.ValidType(t) {
		return nil, validationf("unsupported memory type %q", t)
	}
	mem, err := s.vectors.Get(ctx, projectID, t, id)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, ErrNotFound
	}
	if mem.Deleted {
		return nil, ErrDeleted
	}

	if in.Content != nil && *in.Content != mem.Content {
		if strings.TrimSpace(*in.Content) == "" {
			return nil, validationf("content cannot be empty")
		}
		vec, err := s.embedder.Embed(ctx, *in.Content)
		if err != nil {
			return nil, err
		}
		mem.Content = *in.Content
		mem.Vector = vec
	}
	if len(in.Metadata) > 0 {
		if mem.Metadata == nil {
			mem.Metadata = map[string]any{}
		}
		for k, v := range in.Metadata {
			mem.Metadata[k] = v
		}
	}
	mem.UpdatedAt = types.Timestamp(time.Now())

	if err := s.vectors.Upsert(ctx, mem); err != nil {
		return nil, err
	}

	if types.GraphEligible(t) && s.graphs.Available() {
		if _, err := s.graphs.UpdateNode(ctx, projectID, id, s.nodeProps(mem)); err != nil {
			s.log.Warn("graph node update failed", "project_id", projectID, "memory_id", id, "error", err)
		}
		if in.Relationships != nil {
			if _, err := s.graphs.DeleteRelationshipsFrom(ctx, projectID, id); err != nil {
				s.log.Warn("relationship replace failed", "project_id", projectID, "memory_id", id, "error", err)
			} else {
				s.createExplicitRelationships(ctx, mem, in.Relationships)
			}
		}
	}
	return mem, nil
}

// Delete soft-deletes by default: the point keeps its vector and payload with
// deleted=true, and the graph node is flagged. A hard delete removes both
// sides permanently. Graph failures are logged, not retried; the vector
// store remains the source of truth either way.
func (s *Service) Delete(ctx context.Context, projectID string, t types.MemoryType, id string, hard bool) error {
	if err := types.ValidateProjectID(projectID); err != nil {
		return validationf("%v", err)
	}
	if !types.ValidType(t) {
		return validationf("unsupported memory type %q", t)
	}
	mem, err := s.vectors.Get(ctx, projectID, t, id)
	if err != nil {
		return err
	}
	if mem == nil {
		return ErrNotFound
	}

	if hard {
		if err := s.vectors.HardDelete(ctx, projectID, t, id); err != nil {
			return err
		}
		if types.GraphEligible(t) && s.graphs.Available() {
			if _, err := s.graphs.HardDeleteNode(ctx, projectID, id); err != nil {
				s.log.Warn("graph node hard delete failed", "project_id", projectID, "memory_id", id, "error", err)
			}
		}
		return nil
	}

	if mem.Deleted {
		return ErrDeleted
	}
	if err := s.vectors.SoftDelete(ctx, projectID, t, id); err != nil {
		return err
	}
	if types.GraphEligible(t) && s.graphs.Available() {
		if _, err := s.graphs.SoftDeleteNode(ctx, projectID, id); err != nil {
			s.log.Warn("graph node soft delete failed", "project_id", projectID, "memory_id", id, "error", err)
		}
	}
	return nil
}

// BulkCreate embeds and writes items grouped by type: one embedding call and
// one upsert per type. Graph mirroring and inference are intentionally
// skipped on this path for throughput; run normalization afterwards if graph
// completeness matters.
func (s *Service) BulkCreate(ctx context.Context, projectID string, items []CreateInput) ([]string, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	if len(items) == 0 {
		return nil, validationf("no items to create")
	}

	byType := map[types.MemoryType][]int{}
	typeOrder := []types.MemoryType{}
	for i, item := range items {
		if !types.ValidType(item.Type) {
			return nil, validationf("item %d: unsupported memory type %q", i, item.Type)
		}
		if strings.TrimSpace(item.Content) == "" {
			return nil, validationf("item %d: content is required", i)
		}
		if _, seen := byType[item.Type]; !seen {
			typeOrder = append(typeOrder, item.Type)
		}
		byType[item.Type] = append(byType[item.Type], i)
	}

	now := types.Timestamp(time.Now())
	ids := make([]string, len(items))
	mems := make([]*types.Memory, 0, len(items))
	for _, t := range typeOrder {
		indices := byType[t]
		texts := make([]string, len(indices))
		for j, idx := range indices {
			texts[j] = items[idx].Content
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		for j, idx := range indices {
			mem := &types.Memory{
				ID:        uuid.New().String(),
				Type:      t,
				Content:   items[idx].Content,
				Metadata:  items[idx].Metadata,
				Vector:    vecs[j],
				ProjectID: projectID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			ids[idx] = mem.ID
			mems = append(mems, mem)
		}
	}
	if err := s.vectors.UpsertBatch(ctx, mems); err != nil {
		return nil, err
	}
	return ids, nil
}

// Search embeds the query and runs a cross-collection similarity search over
// the requested types (all types when none are given), dropping hits under
// the threshold.
func (s *Service) Search(ctx context.Context, projectID string, in SearchInput) ([]SearchHit, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, validationf("query is required")
	}
	ts := in.Types
	if len(ts) == 0 {
		ts = types.AllTypes()
	} else {
		for _, t := range ts {
			if !types.ValidType(t) {
				return nil, validationf("unsupported memory type %q", t)
			}
		}
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = defaultSearchThreshold
	}
	if threshold > 1 {
		return nil, validationf("threshold must be in (0, 1], got %v", threshold)
	}

	vec, err := s.embedder.Embed(ctx, in.Query)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectors.Search(ctx, projectID, ts, vec, limit, vector.SearchOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		out = append(out, SearchHit{Memory: h.Memory, Score: h.Score})
	}
	return out, nil
}

// List pages through active memories of one type.
func (s *Service) List(ctx context.Context, projectID string, t types.MemoryType, limit int, offset []byte) ([]*types.Memory, []byte, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, nil, validationf("%v", err)
	}
	if !types.ValidType(t) {
		return nil, nil, validationf("unsupported memory type %q", t)
	}
	active := false
	page, err := s.vectors.Scroll(ctx, projectID, t, vector.ScrollOptions{
		Deleted: &active,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, nil, err
	}
	return page.Memories, page.NextOffset, nil
}

// Statistics counts active memories per type and, when the graph store is
// up, its nodes and relationships.
func (s *Service) Statistics(ctx context.Context, projectID string) (*Statistics, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	stats := &Statistics{MemoriesByType: map[types.MemoryType]int{}}
	for _, t := range types.AllTypes() {
		count, err := s.vectors.Count(ctx, projectID, t, false)
		if err != nil {
			return nil, err
		}
		stats.MemoriesByType[t] = count
		stats.TotalMemories += count
	}
	if s.graphs.Available() {
		graphStats, err := s.graphs.Statistics(ctx, projectID)
		if err != nil {
			s.log.Warn("graph statistics failed", "project_id", projectID, "error", err)
		} else {
			stats.Graph = &graphStats
		}
	}
	return stats, nil
}

// Related runs a bounded-depth graph traversal from a memory's node.
func (s *Service) Related(ctx context.Context, projectID, id string, relTypes []string, depth int) ([]graph.RelatedNode, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	if !s.graphs.Available() {
		return nil, validationf("graph store is not configured")
	}
	return s.graphs.GetRelated(ctx, projectID, id, relTypes, depth)
}

// nodeProps builds the mirrored node's property bag: a truncated content
// summary plus scalar metadata. Reserved keys never leak in from metadata.
func (s *Service) nodeProps(mem *types.Memory) map[string]any {
	props := map[string]any{
		"type":            string(mem.Type),
		"content_summary": truncateRunes(mem.Content, contentSummaryRunes),
		"deleted":         mem.Deleted,
	}
	for k, v := range mem.Metadata {
		switch k {
		case "id", "project_id", "type", "content_summary", "deleted", "created_at", "updated_at":
			continue
		}
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			props[k] = v
		}
	}
	return props
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
