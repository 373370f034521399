package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/osok/project-memory/internal/types"
)

type memNode struct {
	id      string
	label   string
	project string
	props   map[string]any
}

type memRel struct {
	project  string
	sourceID string
	relType  string
	targetID string
	props    map[string]any
}

// memStore is a process-local Store used by tests and graph-less local runs.
// ReadQuery is unsupported: there is no Cypher engine behind it.
type memStore struct {
	mu    sync.RWMutex
	nodes map[string]*memNode // keyed project + "\x00" + id
	rels  []*memRel
}

func NewMemoryStore() Store {
	return &memStore{nodes: map[string]*memNode{}}
}

func nodeKey(projectID, id string) string { return projectID + "\x00" + id }

func (s *memStore) Available() bool { return true }

func (s *memStore) CreateNode(_ context.Context, projectID, label, id string, props map[string]any) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid node label %q", label)
	}
	if err := types.ValidateProjectID(projectID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nodeKey(projectID, id)
	node, ok := s.nodes[key]
	if !ok {
		node = &memNode{
			id:      id,
			label:   label,
			project: projectID,
			props:   map[string]any{"created_at": types.Timestamp(time.Now())},
		}
		s.nodes[key] = node
	}
	for k, v := range sanitizeProps(props) {
		node.props[k] = v
	}
	if _, ok := node.props["deleted"]; !ok {
		node.props["deleted"] = false
	}
	node.props["updated_at"] = types.Timestamp(time.Now())
	return nil
}

func (s *memStore) UpdateNode(_ context.Context, projectID, id string, props map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeKey(projectID, id)]
	if !ok {
		return false, nil
	}
	for k, v := range sanitizeProps(props) {
		node.props[k] = v
	}
	node.props["updated_at"] = types.Timestamp(time.Now())
	return true, nil
}

func (s *memStore) SoftDeleteNode(ctx context.Context, projectID, id string) (bool, error) {
	return s.UpdateNode(ctx, projectID, id, map[string]any{"deleted": true})
}

func (s *memStore) HardDeleteNode(_ context.Context, projectID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nodeKey(projectID, id)
	if _, ok := s.nodes[key]; !ok {
		return false, nil
	}
	delete(s.nodes, key)
	kept := s.rels[:0]
	for _, rel := range s.rels {
		if rel.project == projectID && (rel.sourceID == id || rel.targetID == id) {
			continue
		}
		kept = append(kept, rel)
	}
	s.rels = kept
	return true, nil
}

func (s *memStore) CreateRelationship(_ context.Context, projectID, sourceID, relType, targetID string, props map[string]any) error {
	if !relTypePattern.MatchString(relType) {
		return fmt.Errorf("invalid relationship type %q", relType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Missing endpoints are a silent no-op, matching MATCH+MERGE semantics.
	if _, ok := s.nodes[nodeKey(projectID, sourceID)]; !ok {
		return nil
	}
	if _, ok := s.nodes[nodeKey(projectID, targetID)]; !ok {
		return nil
	}
	for _, rel := range s.rels {
		if rel.project == projectID && rel.sourceID == sourceID && rel.targetID == targetID && rel.relType == relType {
			for k, v := range sanitizeProps(props) {
				rel.props[k] = v
			}
			return nil
		}
	}
	s.rels = append(s.rels, &memRel{
		project:  projectID,
		sourceID: sourceID,
		relType:  relType,
		targetID: targetID,
		props:    sanitizeProps(props),
	})
	return nil
}

func (s *memStore) DeleteRelationshipsFrom(_ context.Context, projectID, sourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := s.rels[:0]
	for _, rel := range s.rels {
		if rel.project == projectID && rel.sourceID == sourceID {
			removed++
			continue
		}
		kept = append(kept, rel)
	}
	s.rels = kept
	return removed, nil
}

func (s *memStore) GetRelated(_ context.Context, projectID, id string, relTypes []string, depth int) ([]RelatedNode, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}
	allowed := map[string]bool{}
	for _, rt := range relTypes {
		if !relTypePattern.MatchString(rt) {
			return nil, fmt.Errorf("invalid relationship type %q", rt)
		}
		allowed[rt] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Undirected BFS over the relationship list, bounded by depth.
	distances := map[string]int{id: 0}
	frontier := []string{id}
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, current := range frontier {
			for _, rel := range s.rels {
				if rel.project != projectID {
					continue
				}
				if len(allowed) > 0 && !allowed[rel.relType] {
					continue
				}
				var neighbor string
				switch current {
				case rel.sourceID:
					neighbor = rel.targetID
				case rel.targetID:
					neighbor = rel.sourceID
				default:
					continue
				}
				if _, seen := distances[neighbor]; seen {
					continue
				}
				distances[neighbor] = d
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	var out []RelatedNode
	for nid, dist := range distances {
		if nid == id {
			continue
		}
		node, ok := s.nodes[nodeKey(projectID, nid)]
		if !ok {
			continue
		}
		if deleted, _ := node.props["deleted"].(bool); deleted {
			continue
		}
		props := make(map[string]any, len(node.props))
		for k, v := range node.props {
			props[k] = v
		}
		out = append(out, RelatedNode{
			ID:         nid,
			Labels:     []string{node.label},
			Properties: props,
			Distance:   dist,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].ID < out[j].ID
		}
		return out[i].Distance < out[j].Distance
	})
	if len(out) > relatedResultCap {
		out = out[:relatedResultCap]
	}
	return out, nil
}

func (s *memStore) ListNodes(_ context.Context, projectID string) ([]NodeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []NodeRef
	for _, node := range s.nodes {
		if node.project != projectID {
			continue
		}
		ref := NodeRef{ID: node.id}
		ref.Type, _ = node.props["type"].(string)
		ref.Deleted, _ = node.props["deleted"].(bool)
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (s *memStore) ReadQuery(_ context.Context, _ string, cypher string, _ map[string]any) ([]map[string]any, error) {
	if err := ValidateReadOnlyQuery(cypher); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("in-memory graph store cannot execute cypher")
}

func (s *memStore) Statistics(_ context.Context, projectID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{}
	for _, node := range s.nodes {
		if node.project != projectID {
			continue
		}
		if deleted, _ := node.props["deleted"].(bool); deleted {
			continue
		}
		stats.NodeCount++
	}
	for _, rel := range s.rels {
		if rel.project == projectID {
			stats.RelationshipCount++
		}
	}
	return stats, nil
}
