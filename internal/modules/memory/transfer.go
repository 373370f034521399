package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/types"
)

// ConflictPolicy decides what happens when an imported record's id already
// exists. Applied independently per record.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictError     ConflictPolicy = "error"
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case ConflictSkip, ConflictOverwrite, ConflictError:
		return ConflictPolicy(s), nil
	case "":
		return ConflictSkip, nil
	default:
		return "", validationf("unsupported conflict policy %q", s)
	}
}

const exportVersion = 1

// importErrorCap bounds the error list returned by Import so one corrupt
// file cannot blow up the response.
const importErrorCap = 20

// exportHeader is the first JSONL line of an export.
type exportHeader struct {
	ExportVersion int    `json:"export_version"`
	ProjectID     string `json:"project_id"`
	ExportedAt    string `json:"exported_at"`
}

// exportRecord is the stable per-memory line format. Vectors are not
// exported; import re-embeds content.
type exportRecord struct {
	MemoryID  string         `json:"memory_id"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Deleted   bool           `json:"deleted"`
	ProjectID string         `json:"project_id"`
}

// ImportReport aggregates a whole import run.
type ImportReport struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Export streams the project as JSONL: a header line followed by one record
// per memory, every type, active only unless includeDeleted is set.
func (s *Service) Export(ctx context.Context, projectID string, includeDeleted bool, w io.Writer) error {
	if err := types.ValidateProjectID(projectID); err != nil {
		return validationf("%v", err)
	}
	enc := json.NewEncoder(w)
	header := exportHeader{
		ExportVersion: exportVersion,
		ProjectID:     projectID,
		ExportedAt:    types.Timestamp(time.Now()),
	}
	if err := enc.Encode(header); err != nil {
		return err
	}

	var deleted *bool
	if !includeDeleted {
		active := false
		deleted = &active
	}
	for _, t := range types.AllTypes() {
		var offset []byte
		for {
			page, err := s.vectors.Scroll(ctx, projectID, t, vector.ScrollOptions{
				Deleted: deleted,
				Limit:   200,
				Offset:  offset,
			})
			if err != nil {
				return err
			}
			for _, mem := range page.Memories {
				record := exportRecord{
					MemoryID:  mem.ID,
					Type:      string(mem.Type),
					Content:   mem.Content,
					Metadata:  mem.Metadata,
					CreatedAt: mem.CreatedAt,
					UpdatedAt: mem.UpdatedAt,
					Deleted:   mem.Deleted,
					ProjectID: mem.ProjectID,
				}
				if err := enc.Encode(record); err != nil {
					return err
				}
			}
			if page.NextOffset == nil {
				break
			}
			offset = page.NextOffset
		}
	}
	return nil
}

// Import consumes the Export line format into the given project (record
// project ids are ignored in favor of the target project). Content is
// re-embedded; each record succeeds or fails on its own.
func (s *Service) Import(ctx context.Context, projectID string, r io.Reader, policy ConflictPolicy) (*ImportReport, error) {
	if err := types.ValidateProjectID(projectID); err != nil {
		return nil, validationf("%v", err)
	}
	if policy == "" {
		policy = ConflictSkip
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, validationf("import stream is empty")
	}
	var header exportHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil || header.ExportVersion == 0 {
		return nil, validationf("first line is not an export header")
	}
	if header.ExportVersion != exportVersion {
		return nil, validationf("unsupported export version %d", header.ExportVersion)
	}

	report := &ImportReport{}
	fail := func(line int, err error) {
		report.Failed++
		if len(report.Errors) < importErrorCap {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", line, err))
		}
	}

	line := 1
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var record exportRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			fail(line, err)
			continue
		}
		skipped, err := s.importRecord(ctx, projectID, record, policy)
		if err != nil {
			fail(line, err)
			continue
		}
		if skipped {
			report.Skipped++
		} else {
			report.Imported++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

// importRecord writes one record. The bool result reports a conflict skip.
func (s *Service) importRecord(ctx context.Context, projectID string, record exportRecord, policy ConflictPolicy) (bool, error) {
	t := types.MemoryType(record.Type)
	if !types.ValidType(t) {
		return false, fmt.Errorf("unsupported memory type %q", record.Type)
	}
	if record.MemoryID == "" {
		return false, fmt.Errorf("record has no memory_id")
	}
	if strings.TrimSpace(record.Content) == "" {
		return false, fmt.Errorf("record %s has no content", record.MemoryID)
	}

	existing, err := s.vectors.Get(ctx, projectID, t, record.MemoryID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		switch policy {
		case ConflictSkip:
			return true, nil
		case ConflictError:
			return false, fmt.Errorf("record %s already exists", record.MemoryID)
		case ConflictOverwrite:
			// Fall through to the upsert.
		}
	}

	vec, err := s.embedder.Embed(ctx, record.Content)
	if err != nil {
		return false, err
	}
	now := types.Timestamp(time.Now())
	createdAt := record.CreatedAt
	if createdAt == "" {
		createdAt = now
	}
	updatedAt := record.UpdatedAt
	if updatedAt == "" {
		updatedAt = now
	}
	mem := &types.Memory{
		ID:        record.MemoryID,
		Type:      t,
		Content:   record.Content,
		Metadata:  record.Metadata,
		Vector:    vec,
		ProjectID: projectID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Deleted:   record.Deleted,
	}
	if err := s.vectors.Upsert(ctx, mem); err != nil {
		return false, err
	}
	if !mem.Deleted && types.GraphEligible(t) && s.graphs.Available() {
		if err := s.graphs.CreateNode(ctx, projectID, types.NodeLabel(t), mem.ID, s.nodeProps(mem)); err != nil {
			s.log.Warn("import graph mirror failed", "project_id", projectID, "memory_id", mem.ID, "error", err)
		}
	}
	return false, nil
}
