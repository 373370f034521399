package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osok/project-memory/internal/types"
)

func TestExportFormat(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, testProject, CreateInput{
		Type:     types.MemoryTypeDesign,
		Content:  "exported design",
		Metadata: map[string]any{"tag": "v1"},
	})
	require.NoError(t, err)

	deleted, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "soft deleted"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, testProject, types.MemoryTypeDesign, deleted.ID, false))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, testProject, false, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var header map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	assert.Equal(t, float64(1), header["export_version"])
	assert.Equal(t, testProject, header["project_id"])

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &record))
	assert.Equal(t, created.ID, record["memory_id"])
	assert.Equal(t, "design", record["type"])
	assert.Equal(t, "exported design", record["content"])
	assert.Equal(t, testProject, record["project_id"])
	assert.Equal(t, false, record["deleted"])

	// includeDeleted brings the soft-deleted record back.
	buf.Reset()
	require.NoError(t, svc.Export(ctx, testProject, true, &buf))
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
}

func TestExportImportRoundTrip(t *testing.T) {
	src, _ := newTestService(t)
	ctx := context.Background()

	_, err := src.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeRequirements, Content: "req"})
	require.NoError(t, err)
	_, err = src.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "design"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, testProject, false, &buf))

	dst, _ := newTestService(t)
	report, err := dst.Import(ctx, testProject, &buf, ConflictSkip)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)

	stats, err := dst.Statistics(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMemories)
	// Imported graph-eligible memories get their mirror nodes back.
	require.NotNil(t, stats.Graph)
	assert.Equal(t, 2, stats.Graph.NodeCount)
}

func TestImportConflictPolicies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	existing, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "original"})
	require.NoError(t, err)

	stream := func(content string) *strings.Reader {
		header := `{"export_version":1,"project_id":"testproj","exported_at":"2026-01-01T00:00:00Z"}`
		record, _ := json.Marshal(map[string]any{
			"memory_id":  existing.ID,
			"type":       "design",
			"content":    content,
			"created_at": "2026-01-01T00:00:00Z",
			"updated_at": "2026-01-01T00:00:00Z",
			"deleted":    false,
			"project_id": testProject,
		})
		return strings.NewReader(header + "\n" + string(record) + "\n")
	}

	report, err := svc.Import(ctx, testProject, stream("incoming"), ConflictSkip)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	got, err := svc.Get(ctx, testProject, types.MemoryTypeDesign, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)

	report, err = svc.Import(ctx, testProject, stream("incoming"), ConflictError)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "already exists")

	report, err = svc.Import(ctx, testProject, stream("incoming"), ConflictOverwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	got, err = svc.Get(ctx, testProject, types.MemoryTypeDesign, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "incoming", got.Content)
}

func TestImportRejectsMissingHeader(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Import(context.Background(), testProject, strings.NewReader(`{"memory_id":"x"}`), ConflictSkip)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = svc.Import(context.Background(), testProject, strings.NewReader(""), ConflictSkip)
	require.Error(t, err)
}

func TestImportSkipsBadRecordsButContinues(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	header := `{"export_version":1,"project_id":"testproj","exported_at":"2026-01-01T00:00:00Z"}`
	good := `{"memory_id":"m-good","type":"design","content":"fine","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z","deleted":false,"project_id":"testproj"}`
	badType := `{"memory_id":"m-bad","type":"nonsense","content":"x","project_id":"testproj"}`
	garbage := `{not json`

	report, err := svc.Import(ctx, testProject, strings.NewReader(header+"\n"+badType+"\n"+garbage+"\n"+good+"\n"), ConflictSkip)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 2, report.Failed)
	assert.Len(t, report.Errors, 2)

	got, err := svc.Get(ctx, testProject, types.MemoryTypeDesign, "m-good")
	require.NoError(t, err)
	assert.Equal(t, "fine", got.Content)
}

func TestParseConflictPolicy(t *testing.T) {
	policy, err := ParseConflictPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ConflictSkip, policy)

	policy, err = ParseConflictPolicy("overwrite")
	require.NoError(t, err)
	assert.Equal(t, ConflictOverwrite, policy)

	_, err = ParseConflictPolicy("merge")
	require.Error(t, err)
}
