package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osok/project-memory/internal/data/graph"
	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/platform/logger"
	"github.com/osok/project-memory/internal/types"
)

const testProject = "testproj"

// stubEmbedder returns vectors from a fixture map so similarity between two
// contents is fully controlled by the test. Unknown text gets a distinct
// one-hot vector.
type stubEmbedder struct {
	vectors map[string][]float32
	calls   int
	next    int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: map[string][]float32{}}
}

func (e *stubEmbedder) set(text string, vec []float32) { e.vectors[text] = vec }

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if vec, ok := e.vectors[text]; ok {
		return append([]float32(nil), vec...), nil
	}
	vec := make([]float32, 8)
	vec[e.next%8] = 1
	vec[(e.next+3)%8] = 0.5
	e.next++
	e.vectors[text] = vec
	return append([]float32(nil), vec...), nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int { return 8 }

func newTestService(t *testing.T) (*Service, *stubEmbedder) {
	t.Helper()
	embedder := newStubEmbedder()
	svc := NewService(logger.NewNop(), vector.NewMemoryStore(), graph.NewMemoryStore(), embedder)
	return svc, embedder
}

func TestCreateGetRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, testProject, CreateInput{
		Type:     types.MemoryTypeDesign,
		Content:  "Password reset flow: token+email",
		Metadata: map[string]any{"author": "dev"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := svc.Get(ctx, testProject, types.MemoryTypeDesign, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Password reset flow: token+email", got.Content)
	assert.Equal(t, "dev", got.Metadata["author"])
	assert.False(t, got.Deleted)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "Bad Project", CreateInput{Type: types.MemoryTypeDesign, Content: "x"})
	assert.True(t, IsValidation(err))

	_, err = svc.Create(ctx, testProject, CreateInput{Type: "nonsense", Content: "x"})
	assert.True(t, IsValidation(err))

	_, err = svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "   "})
	assert.True(t, IsValidation(err))
}

func TestCreateMirrorsGraphNode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mem, err := svc.Create(ctx, testProject, CreateInput{
		Type:    types.MemoryTypeComponent,
		Content: "Auth service handles login and sessions",
	})
	require.NoError(t, err)

	stats, err := svc.Graphs().Statistics(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NodeCount)

	// code_pattern is not graph-eligible, so no second node appears.
	_, err = svc.Create(ctx, testProject, CreateInput{
		Type:    types.MemoryTypeCodePattern,
		Content: "func Login() {}",
	})
	require.NoError(t, err)
	stats, err = svc.Graphs().Statistics(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NodeCount)
	_ = mem
}

func TestInferenceCreatesImplementsEdge(t *testing.T) {
	svc, embedder := newTestService(t)
	ctx := context.Background()

	// Nearly identical vectors put similarity above the 0.75 threshold.
	embedder.set("Users must be able to reset their password", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	embedder.set("Password reset flow: token+email", []float32{0.98, 0.2, 0, 0, 0, 0, 0, 0})

	req, err := svc.Create(ctx, testProject, CreateInput{
		Type:    types.MemoryTypeRequirements,
		Content: "Users must be able to reset their password",
	})
	require.NoError(t, err)

	design, err := svc.Create(ctx, testProject, CreateInput{
		Type:    types.MemoryTypeDesign,
		Content: "Password reset flow: token+email",
	})
	require.NoError(t, err)

	related, err := svc.Graphs().GetRelated(ctx, testProject, design.ID, []string{"IMPLEMENTS"}, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, req.ID, related[0].ID)
}

func TestInferenceSkipsDissimilar(t *testing.T) {
	svc, embedder := newTestService(t)
	ctx := context.Background()

	embedder.set("requirement about exports", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	embedder.set("design about logging", []float32{0, 1, 0, 0, 0, 0, 0, 0})

	_, err := svc.Create(ctx, testProject, CreateInput{
		Type:    types.MemoryTypeRequirements,
		Content: "requirement about exports",
	})
	require.NoError(t, err)
	design, err := svc.Create(ctx, testProject, CreateInput{
		Type:    types.MemoryTypeDesign,
		Content: "design about logging",
	})
	require.NoError(t, err)

	related, err := svc.Graphs().GetRelated(ctx, testProject, design.ID, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestExplicitRelationships(t *testing.T) {
	svc, embedder := newTestService(t)
	ctx := context.Background()

	embedder.set("component A", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	embedder.set("component B", []float32{0, 1, 0, 0, 0, 0, 0, 0})

	a, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeComponent, Content: "component A"})
	require.NoError(t, err)

	b, err := svc.Create(ctx, testProject, CreateInput{
		Type:          types.MemoryTypeComponent,
		Content:       "component B",
		Relationships: []RelationshipInput{{Type: "DEPENDS_ON", TargetID: a.ID}},
	})
	require.NoError(t, err)

	related, err := svc.Graphs().GetRelated(ctx, testProject, b.ID, []string{"DEPENDS_ON"}, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, a.ID, related[0].ID)
}

func TestUpdateReembedsOnlyOnContentChange(t *testing.T) {
	svc, embedder := newTestService(t)
	ctx := context.Background()

	mem, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "v1"})
	require.NoError(t, err)
	callsAfterCreate := embedder.calls

	// Same content: no embedding call, metadata still merges.
	same := "v1"
	updated, err := svc.Update(ctx, testProject, types.MemoryTypeDesign, mem.ID, UpdateInput{
		Content:  &same,
		Metadata: map[string]any{"reviewed": true},
	})
	require.NoError(t, err)
	assert.Equal(t, callsAfterCreate, embedder.calls)
	assert.Equal(t, true, updated.Metadata["reviewed"])

	// Changed content re-embeds.
	changed := "v2"
	updated, err = svc.Update(ctx, testProject, types.MemoryTypeDesign, mem.ID, UpdateInput{Content: &changed})
	require.NoError(t, err)
	assert.Equal(t, callsAfterCreate+1, embedder.calls)
	assert.Equal(t, "v2", updated.Content)
	// The earlier metadata merge survives.
	assert.Equal(t, true, updated.Metadata["reviewed"])
}

func TestUpdateReplacesRelationships(t *testing.T) {
	svc, embedder := newTestService(t)
	ctx := context.Background()

	embedder.set("component A", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	embedder.set("component B", []float32{0, 1, 0, 0, 0, 0, 0, 0})
	embedder.set("component C", []float32{0, 0, 1, 0, 0, 0, 0, 0})

	a, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeComponent, Content: "component A"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeComponent, Content: "component B"})
	require.NoError(t, err)
	c, err := svc.Create(ctx, testProject, CreateInput{
		Type:          types.MemoryTypeComponent,
		Content:       "component C",
		Relationships: []RelationshipInput{{Type: "DEPENDS_ON", TargetID: a.ID}},
	})
	require.NoError(t, err)

	// A non-nil slice replaces, never appends.
	_, err = svc.Update(ctx, testProject, types.MemoryTypeComponent, c.ID, UpdateInput{
		Relationships: []RelationshipInput{{Type: "DEPENDS_ON", TargetID: b.ID}},
	})
	require.NoError(t, err)

	related, err := svc.Graphs().GetRelated(ctx, testProject, c.ID, []string{"DEPENDS_ON"}, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, b.ID, related[0].ID)
}

func TestSoftDeleteHidesFromReadsButKeepsPoint(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mem, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "to delete"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, testProject, types.MemoryTypeDesign, mem.ID, false))

	_, err = svc.Get(ctx, testProject, types.MemoryTypeDesign, mem.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The point survives for maintenance paths.
	raw, err := svc.Vectors().Get(ctx, testProject, types.MemoryTypeDesign, mem.ID)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.True(t, raw.Deleted)
	assert.NotEmpty(t, raw.Vector)

	// Further mutations are conflicts.
	content := "x"
	_, err = svc.Update(ctx, testProject, types.MemoryTypeDesign, mem.ID, UpdateInput{Content: &content})
	assert.ErrorIs(t, err, ErrDeleted)
	assert.ErrorIs(t, svc.Delete(ctx, testProject, types.MemoryTypeDesign, mem.ID, false), ErrDeleted)
}

func TestHardDeleteRemovesBothStores(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mem, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeComponent, Content: "gone"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, testProject, types.MemoryTypeComponent, mem.ID, true))

	raw, err := svc.Vectors().Get(ctx, testProject, types.MemoryTypeComponent, mem.ID)
	require.NoError(t, err)
	assert.Nil(t, raw)

	stats, err := svc.Graphs().Statistics(ctx, testProject)
	require.NoError(t, err)
	assert.Zero(t, stats.NodeCount)
}

func TestBulkCreateSkipsGraph(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	items := []CreateInput{
		{Type: types.MemoryTypeRequirements, Content: "req one"},
		{Type: types.MemoryTypeRequirements, Content: "req two"},
		{Type: types.MemoryTypeDesign, Content: "design one"},
	}
	ids, err := svc.BulkCreate(ctx, testProject, items)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	count, err := svc.Vectors().Count(ctx, testProject, types.MemoryTypeRequirements, false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Bulk writes are vector-only by design.
	stats, err := svc.Graphs().Statistics(ctx, testProject)
	require.NoError(t, err)
	assert.Zero(t, stats.NodeCount)
}

func TestSearchAppliesThreshold(t *testing.T) {
	svc, embedder := newTestService(t)
	ctx := context.Background()

	embedder.set("close match", []float32{1, 0.1, 0, 0, 0, 0, 0, 0})
	embedder.set("far match", []float32{0, 0, 0, 1, 0, 0, 0, 0})
	embedder.set("the query", []float32{1, 0, 0, 0, 0, 0, 0, 0})

	_, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "close match"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "far match"})
	require.NoError(t, err)

	hits, err := svc.Search(ctx, testProject, SearchInput{Query: "the query", Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "close match", hits[0].Memory.Content)
}

func TestSearchExcludesSoftDeleted(t *testing.T) {
	svc, embedder := newTestService(t)
	ctx := context.Background()

	embedder.set("findable", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	mem, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "findable"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, testProject, types.MemoryTypeDesign, mem.ID, false))

	hits, err := svc.Search(ctx, testProject, SearchInput{Query: "findable", Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestListPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, testProject, CreateInput{
			Type:    types.MemoryTypeSession,
			Content: fmt.Sprintf("session %d", i),
		})
		require.NoError(t, err)
	}

	first, next, err := svc.List(ctx, testProject, types.MemoryTypeSession, 3, nil)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, next)

	second, next, err := svc.List(ctx, testProject, types.MemoryTypeSession, 3, next)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Nil(t, next)
}

func TestStatistics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeDesign, Content: "d1"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, testProject, CreateInput{Type: types.MemoryTypeSession, Content: "s1"})
	require.NoError(t, err)

	stats, err := svc.Statistics(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMemories)
	assert.Equal(t, 1, stats.MemoriesByType[types.MemoryTypeDesign])
	require.NotNil(t, stats.Graph)
	assert.Equal(t, 1, stats.Graph.NodeCount)
}

func TestSuiteRetention(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// 10 results spanning 0..60 days old, keepCount=3, olderThanDays=30.
	now := time.Now()
	for i := 0; i < 10; i++ {
		age := time.Duration(i) * 24 * time.Hour * 60 / 9
		mem := &types.Memory{
			ID:        fmt.Sprintf("tr-%02d", i),
			Type:      types.MemoryTypeTestResult,
			Content:   fmt.Sprintf("run %d", i),
			Metadata:  map[string]any{"suite_id": "auth-suite"},
			Vector:    []float32{1, 0, 0, 0, 0, 0, 0, 0},
			ProjectID: testProject,
			CreatedAt: types.Timestamp(now.Add(-age)),
			UpdatedAt: types.Timestamp(now.Add(-age)),
		}
		require.NoError(t, svc.Vectors().Upsert(ctx, mem))
	}

	removed, _, err := svc.ApplySuiteRetention(ctx, testProject, SuiteRetentionConfig{KeepCount: 3, OlderThanDays: 30}, false)
	require.NoError(t, err)

	// tr-00..tr-02 are the newest three and always survive. Of the remaining
	// seven, those older than 30 days (tr-05..tr-09) go.
	assert.Equal(t, 5, removed)
	for i := 0; i < 5; i++ {
		mem, err := svc.Vectors().Get(ctx, testProject, types.MemoryTypeTestResult, fmt.Sprintf("tr-%02d", i))
		require.NoError(t, err)
		require.NotNil(t, mem)
		assert.False(t, mem.Deleted, mem.ID)
	}
	for i := 5; i < 10; i++ {
		mem, err := svc.Vectors().Get(ctx, testProject, types.MemoryTypeTestResult, fmt.Sprintf("tr-%02d", i))
		require.NoError(t, err)
		require.NotNil(t, mem)
		assert.True(t, mem.Deleted, mem.ID)
	}
}

func TestSuiteRetentionDryRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 4; i++ {
		mem := &types.Memory{
			ID:        fmt.Sprintf("tr-%d", i),
			Type:      types.MemoryTypeTestResult,
			Content:   "run",
			Metadata:  map[string]any{"suite_name": "nightly"},
			Vector:    []float32{1, 0, 0, 0, 0, 0, 0, 0},
			ProjectID: testProject,
			CreatedAt: types.Timestamp(now.Add(-40 * 24 * time.Hour)),
			UpdatedAt: types.Timestamp(now.Add(-40 * 24 * time.Hour)),
		}
		require.NoError(t, svc.Vectors().Upsert(ctx, mem))
	}

	removed, details, err := svc.ApplySuiteRetention(ctx, testProject, SuiteRetentionConfig{KeepCount: 1, OlderThanDays: 30}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Len(t, details, 3)

	// Dry run touched nothing.
	count, err := svc.Vectors().Count(ctx, testProject, types.MemoryTypeTestResult, false)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
