package graph

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/osok/project-memory/internal/platform/logger"
	"github.com/osok/project-memory/internal/platform/neo4jdb"
	"github.com/osok/project-memory/internal/types"
)

const relatedResultCap = 50

// NodeRef is a lightweight node reference used by orphan detection.
type NodeRef struct {
	ID      string
	Type    string
	Deleted bool
}

// RelatedNode is one traversal result with its hop distance from the start
// node.
type RelatedNode struct {
	ID         string
	Labels     []string
	Properties map[string]any
	Distance   int
}

// Stats summarizes the project's graph.
type Stats struct {
	NodeCount         int `json:"node_count"`
	RelationshipCount int `json:"relationship_count"`
}

// Store is the graph-side adapter. All operations are scoped to a project;
// node ids mirror memory ids. Soft delete flags the node, hard delete removes
// it together with its relationships.
type Store interface {
	Available() bool
	CreateNode(ctx context.Context, projectID, label, id string, props map[string]any) error
	// UpdateNode merges props onto the node and bumps updated_at. False when
	// no node matched within the project.
	UpdateNode(ctx context.Context, projectID, id string, props map[string]any) (bool, error)
	SoftDeleteNode(ctx context.Context, projectID, id string) (bool, error)
	HardDeleteNode(ctx context.Context, projectID, id string) (bool, error)
	// CreateRelationship silently no-ops when either endpoint is missing.
	CreateRelationship(ctx context.Context, projectID, sourceID, relType, targetID string, props map[string]any) error
	// DeleteRelationshipsFrom removes all outgoing relationships of the
	// source node and returns how many were removed.
	DeleteRelationshipsFrom(ctx context.Context, projectID, sourceID string) (int, error)
	GetRelated(ctx context.Context, projectID, id string, relTypes []string, depth int) ([]RelatedNode, error)
	ListNodes(ctx context.Context, projectID string) ([]NodeRef, error)
	// ReadQuery executes a caller-supplied Cypher statement after the
	// read-only screening in readonly.go. project_id is always bound as a
	// parameter.
	ReadQuery(ctx context.Context, projectID, cypher string, params map[string]any) ([]map[string]any, error)
	Statistics(ctx context.Context, projectID string) (Stats, error)
}

var (
	labelPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

type store struct {
	log    *logger.Logger
	client *neo4jdb.Client
}

// NewStore wraps a neo4j client. A nil client yields a store whose
// Available() is false; callers are expected to skip graph work in that case.
func NewStore(log *logger.Logger, client *neo4jdb.Client) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &store{
		log:    log.With("service", "GraphStore"),
		client: client,
	}, nil
}

func (s *store) Available() bool {
	return s.client.Available()
}

func (s *store) CreateNode(ctx context.Context, projectID, label, id string, props map[string]any) error {
	if !s.Available() {
		return fmt.Errorf("graph store unavailable")
	}
	// Labels cannot be bound as parameters, so they are validated before
	// being spliced into the statement.
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid node label %q", label)
	}
	if err := types.ValidateProjectID(projectID); err != nil {
		return err
	}
	now := types.Timestamp(time.Now())

	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MERGE (n:%s {id: $id, project_id: $project_id})
SET n += $props,
    n.deleted = coalesce($props.deleted, false),
    n.created_at = coalesce(n.created_at, $now),
    n.updated_at = $now
`, label), map[string]any{
			"id":         id,
			"project_id": projectID,
			"props":      sanitizeProps(props),
			"now":        now,
		})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

func (s *store) UpdateNode(ctx context.Context, projectID, id string, props map[string]any) (bool, error) {
	if !s.Available() {
		return false, fmt.Errorf("graph store unavailable")
	}
	now := types.Timestamp(time.Now())

	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	matched, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n {id: $id, project_id: $project_id})
SET n += $props, n.updated_at = $now
RETURN count(n) AS matched
`, map[string]any{
			"id":         id,
			"project_id": projectID,
			"props":      sanitizeProps(props),
			"now":        now,
		})
		if err != nil {
			return nil, err
		}
		return singleInt(ctx, res, "matched")
	})
	if err != nil {
		return false, err
	}
	return matched.(int64) > 0, nil
}

func (s *store) SoftDeleteNode(ctx context.Context, projectID, id string) (bool, error) {
	return s.UpdateNode(ctx, projectID, id, map[string]any{"deleted": true})
}

func (s *store) HardDeleteNode(ctx context.Context, projectID, id string) (bool, error) {
	if !s.Available() {
		return false, fmt.Errorf("graph store unavailable")
	}
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	removed, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n {id: $id, project_id: $project_id})
WITH n, count(n) AS matched
DETACH DELETE n
RETURN matched
`, map[string]any{
			"id":         id,
			"project_id": projectID,
		})
		if err != nil {
			return nil, err
		}
		return singleInt(ctx, res, "matched")
	})
	if err != nil {
		return false, err
	}
	return removed.(int64) > 0, nil
}

func (s *store) CreateRelationship(ctx context.Context, projectID, sourceID, relType, targetID string, props map[string]any) error {
	if !s.Available() {
		return fmt.Errorf("graph store unavailable")
	}
	if !relTypePattern.MatchString(relType) {
		return fmt.Errorf("invalid relationship type %q", relType)
	}
	now := types.Timestamp(time.Now())

	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (a {id: $source_id, project_id: $project_id})
MATCH (b {id: $target_id, project_id: $project_id})
MERGE (a)-[r:%s]->(b)
SET r += $props,
    r.created_at = coalesce(r.created_at, $now)
`, relType), map[string]any{
			"source_id":  sourceID,
			"target_id":  targetID,
			"project_id": projectID,
			"props":      sanitizeProps(props),
			"now":        now,
		})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

func (s *store) DeleteRelationshipsFrom(ctx context.Context, projectID, sourceID string) (int, error) {
	if !s.Available() {
		return 0, fmt.Errorf("graph store unavailable")
	}
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	removed, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a {id: $source_id, project_id: $project_id})-[r]->()
WITH r, count(r) AS total
DELETE r
RETURN sum(total) AS removed
`, map[string]any{
			"source_id":  sourceID,
			"project_id": projectID,
		})
		if err != nil {
			return nil, err
		}
		return singleInt(ctx, res, "removed")
	})
	if err != nil {
		return 0, err
	}
	return int(removed.(int64)), nil
}

func (s *store) GetRelated(ctx context.Context, projectID, id string, relTypes []string, depth int) ([]RelatedNode, error) {
	if !s.Available() {
		return nil, fmt.Errorf("graph store unavailable")
	}
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}
	relPattern := ""
	if len(relTypes) > 0 {
		for i, rt := range relTypes {
			if !relTypePattern.MatchString(rt) {
				return nil, fmt.Errorf("invalid relationship type %q", rt)
			}
			if i == 0 {
				relPattern = ":" + rt
			} else {
				relPattern += "|" + rt
			}
		}
	}

	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (s {id: $id, project_id: $project_id})
MATCH path = (s)-[%s*1..%d]-(n)
WHERE n.id <> $id
  AND coalesce(n.deleted, false) = false
  AND n.project_id = $project_id
WITH n, min(length(path)) AS distance
RETURN n.id AS id, labels(n) AS labels, properties(n) AS props, distance
ORDER BY distance, id
LIMIT %d
`, relPattern, depth, relatedResultCap), map[string]any{
			"id":         id,
			"project_id": projectID,
		})
		if err != nil {
			return nil, err
		}
		var nodes []RelatedNode
		for res.Next(ctx) {
			record := res.Record()
			node := RelatedNode{}
			if v, ok := record.Get("id"); ok {
				node.ID, _ = v.(string)
			}
			if v, ok := record.Get("labels"); ok {
				if raw, ok := v.([]any); ok {
					for _, l := range raw {
						if s, ok := l.(string); ok {
							node.Labels = append(node.Labels, s)
						}
					}
				}
			}
			if v, ok := record.Get("props"); ok {
				node.Properties, _ = v.(map[string]any)
			}
			if v, ok := record.Get("distance"); ok {
				if d, ok := v.(int64); ok {
					node.Distance = int(d)
				}
			}
			nodes = append(nodes, node)
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]RelatedNode), nil
}

func (s *store) ListNodes(ctx context.Context, projectID string) ([]NodeRef, error) {
	if !s.Available() {
		return nil, fmt.Errorf("graph store unavailable")
	}
	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n {project_id: $project_id})
RETURN n.id AS id, n.type AS type, coalesce(n.deleted, false) AS deleted
`, map[string]any{"project_id": projectID})
		if err != nil {
			return nil, err
		}
		var refs []NodeRef
		for res.Next(ctx) {
			record := res.Record()
			ref := NodeRef{}
			if v, ok := record.Get("id"); ok {
				ref.ID, _ = v.(string)
			}
			if v, ok := record.Get("type"); ok {
				ref.Type, _ = v.(string)
			}
			if v, ok := record.Get("deleted"); ok {
				ref.Deleted, _ = v.(bool)
			}
			refs = append(refs, ref)
		}
		return refs, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]NodeRef), nil
}

func (s *store) ReadQuery(ctx context.Context, projectID, cypher string, params map[string]any) ([]map[string]any, error) {
	if !s.Available() {
		return nil, fmt.Errorf("graph store unavailable")
	}
	if err := ValidateReadOnlyQuery(cypher); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	params["project_id"] = projectID

	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for res.Next(ctx) {
			rows = append(rows, res.Record().AsMap())
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]map[string]any), nil
}

func (s *store) Statistics(ctx context.Context, projectID string) (Stats, error) {
	if !s.Available() {
		return Stats{}, fmt.Errorf("graph store unavailable")
	}
	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n {project_id: $project_id})
WHERE coalesce(n.deleted, false) = false
OPTIONAL MATCH (n)-[r]->(m {project_id: $project_id})
RETURN count(DISTINCT n) AS nodes, count(r) AS rels
`, map[string]any{"project_id": projectID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		stats := Stats{}
		if v, ok := record.Get("nodes"); ok {
			if n, ok := v.(int64); ok {
				stats.NodeCount = int(n)
			}
		}
		if v, ok := record.Get("rels"); ok {
			if n, ok := v.(int64); ok {
				stats.RelationshipCount = int(n)
			}
		}
		return stats, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return out.(Stats), nil
}

// sanitizeProps keeps only scalar property values; Neo4j properties cannot
// hold nested maps.
func sanitizeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = v
		}
	}
	return out
}

func singleInt(ctx context.Context, res neo4j.ResultWithContext, key string) (int64, error) {
	record, err := res.Single(ctx)
	if err != nil {
		// No row matched means zero, not failure.
		return 0, nil
	}
	if v, ok := record.Get(key); ok {
		if n, ok := v.(int64); ok {
			return n, nil
		}
	}
	return 0, nil
}
