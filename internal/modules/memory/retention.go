package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/types"
)

// SuiteRetentionConfig bounds test-result growth per suite: the newest
// KeepCount results always survive regardless of age, and anything beyond
// that older than OlderThanDays is soft-deleted.
type SuiteRetentionConfig struct {
	KeepCount     int
	OlderThanDays int
}

func DefaultSuiteRetentionConfig() SuiteRetentionConfig {
	return SuiteRetentionConfig{KeepCount: 10, OlderThanDays: 30}
}

// suiteKey groups a test result by suite_id (preferred) or suite_name.
// Empty means the result belongs to no suite and is exempt from retention.
func suiteKey(mem *types.Memory) string {
	if v, ok := mem.Metadata["suite_id"].(string); ok && v != "" {
		return "id:" + v
	}
	if v, ok := mem.Metadata["suite_name"].(string); ok && v != "" {
		return "name:" + v
	}
	return ""
}

// ApplySuiteRetention runs the retention policy over every suite in the
// project. It returns the number of soft-deleted results and per-item
// details. Per-item failures are downgraded to detail strings.
func (s *Service) ApplySuiteRetention(ctx context.Context, projectID string, cfg SuiteRetentionConfig, dryRun bool) (int, []string, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return 0, nil, validationf("%v", err)
	}
	mems, err := s.scrollActiveTestResults(ctx, projectID, nil)
	if err != nil {
		return 0, nil, err
	}
	groups := map[string][]*types.Memory{}
	for _, mem := range mems {
		key := suiteKey(mem)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], mem)
	}
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	total := 0
	var details []string
	for _, key := range keys {
		removed, groupDetails := s.retainSuite(ctx, projectID, groups[key], cfg, dryRun)
		total += removed
		details = append(details, groupDetails...)
	}
	return total, details, nil
}

// applySuiteRetentionForMemory is the eager form run on every test-result
// write, scoped to the suite the new result belongs to.
func (s *Service) applySuiteRetentionForMemory(ctx context.Context, mem *types.Memory, dryRun bool) (int, []string, error) {
	key := suiteKey(mem)
	if key == "" {
		return 0, nil, nil
	}
	filter := map[string]any{}
	if v, ok := mem.Metadata["suite_id"].(string); ok && v != "" {
		filter["suite_id"] = v
	} else if v, ok := mem.Metadata["suite_name"].(string); ok && v != "" {
		filter["suite_name"] = v
	}
	group, err := s.scrollActiveTestResults(ctx, mem.ProjectID, filter)
	if err != nil {
		return 0, nil, err
	}
	removed, details := s.retainSuite(ctx, mem.ProjectID, group, s.retention, dryRun)
	return removed, details, nil
}

// retainSuite applies the policy to one suite's active results: sort newest
// first, keep KeepCount unconditionally, soft-delete the remainder older than
// OlderThanDays. The graph mirror of a removed result is hard-deleted since a
// flagged test-result node has no traversal value.
func (s *Service) retainSuite(ctx context.Context, projectID string, group []*types.Memory, cfg SuiteRetentionConfig, dryRun bool) (int, []string) {
	keep := cfg.KeepCount
	if keep <= 0 {
		keep = DefaultSuiteRetentionConfig().KeepCount
	}
	olderThan := cfg.OlderThanDays
	if olderThan <= 0 {
		olderThan = DefaultSuiteRetentionConfig().OlderThanDays
	}
	if len(group) <= keep {
		return 0, nil
	}
	sort.SliceStable(group, func(i, j int) bool {
		ti := types.ParseTimestamp(group[i].CreatedAt)
		tj := types.ParseTimestamp(group[j].CreatedAt)
		if ti.Equal(tj) {
			return group[i].ID < group[j].ID
		}
		return ti.After(tj)
	})

	cutoff := time.Now().AddDate(0, 0, -olderThan)
	removed := 0
	var details []string
	for _, mem := range group[keep:] {
		if !types.ParseTimestamp(mem.CreatedAt).Before(cutoff) {
			continue
		}
		if dryRun {
			removed++
			details = append(details, fmt.Sprintf("would remove test result %s", mem.ID))
			continue
		}
		if err := s.vectors.SoftDelete(ctx, projectID, types.MemoryTypeTestResult, mem.ID); err != nil {
			details = append(details, fmt.Sprintf("test result %s: %v", mem.ID, err))
			continue
		}
		if s.graphs.Available() {
			if _, err := s.graphs.HardDeleteNode(ctx, projectID, mem.ID); err != nil {
				s.log.Warn("retention graph delete failed", "project_id", projectID, "memory_id", mem.ID, "error", err)
			}
		}
		removed++
	}
	return removed, details
}

func (s *Service) scrollActiveTestResults(ctx context.Context, projectID string, metadata map[string]any) ([]*types.Memory, error) {
	active := false
	var out []*types.Memory
	var offset []byte
	for {
		page, err := s.vectors.Scroll(ctx, projectID, types.MemoryTypeTestResult, vector.ScrollOptions{
			Deleted:  &active,
			Metadata: metadata,
			Limit:    200,
			Offset:   offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Memories...)
		if page.NextOffset == nil {
			return out, nil
		}
		offset = page.NextOffset
	}
}
