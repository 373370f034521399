package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osok/project-memory/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(logger.NewNop(), Config{URL: srv.URL, VectorDim: 3})
	require.NoError(t, err)
	return client, srv
}

func writeEnvelope(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	})
}

func TestUpsertCreatesMissingCollection(t *testing.T) {
	var calls []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/proj_x_design":
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/proj_x_design":
			writeEnvelope(w, true)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/proj_x_design/points":
			var body struct {
				Points []map[string]any `json:"points"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Points, 1)
			assert.Equal(t, "m1", body.Points[0]["id"])
			writeEnvelope(w, map[string]any{"status": "completed"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	err := client.Upsert(context.Background(), "proj_x_design", []Point{
		{ID: "m1", Vector: []float32{0.1, 0.2, 0.3}, Payload: map[string]any{"deleted": false}},
	})
	require.NoError(t, err)
	require.Len(t, calls, 3)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected, got %s %s", r.Method, r.URL.Path)
	})
	err := client.Upsert(context.Background(), "c", []Point{{ID: "m1", Vector: []float32{1, 2}}})
	require.Error(t, err)
	var opError *OperationError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, OperationErrorValidation, opError.Code)
}

func TestMissingCollectionReadsAreEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Collection not found"}}`, http.StatusNotFound)
	})
	ctx := context.Background()

	points, err := client.Search(ctx, "absent", []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, points)

	scroll, err := client.Scroll(ctx, "absent", nil, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, scroll.Points)
	assert.Nil(t, scroll.NextOffset)

	count, err := client.Count(ctx, "absent", nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := client.GetPoints(ctx, "absent", []string{"m1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchDecodesHits(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/c/points/search", r.URL.Path)
		writeEnvelope(w, []map[string]any{
			{"id": "m1", "score": 0.91, "payload": map[string]any{"memory_id": "m1"}},
			{"id": 7, "score": 0.5},
		})
	})
	hits, err := client.Search(context.Background(), "c", []float32{1, 0, 0}, 5, MatchFilter(map[string]any{"deleted": false}))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "m1", hits[0].ID)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
	// Numeric point ids decode to their decimal form.
	assert.Equal(t, "7", hits[1].ID)
}

func TestScrollCarriesCursor(t *testing.T) {
	page := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		page++
		if page == 1 {
			assert.NotContains(t, body, "offset")
			writeEnvelope(w, map[string]any{
				"points":           []map[string]any{{"id": "m1"}},
				"next_page_offset": "m2",
			})
			return
		}
		assert.Equal(t, "m2", body["offset"])
		writeEnvelope(w, map[string]any{
			"points":           []map[string]any{{"id": "m2"}},
			"next_page_offset": nil,
		})
	})
	ctx := context.Background()

	first, err := client.Scroll(ctx, "c", nil, 1, nil)
	require.NoError(t, err)
	require.Len(t, first.Points, 1)
	require.NotNil(t, first.NextOffset)

	second, err := client.Scroll(ctx, "c", nil, 1, first.NextOffset)
	require.NoError(t, err)
	require.Len(t, second.Points, 1)
	assert.Nil(t, second.NextOffset)
}

func TestEnvelopeStatusError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": nil,
			"status": map[string]any{"error": "wrong vector size"},
		})
	})
	_, err := client.Count(context.Background(), "c", nil)
	require.Error(t, err)
	var opError *OperationError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, OperationErrorQueryFailed, opError.Code)
	assert.Contains(t, opError.Message, "wrong vector size")
}

func TestSetPayloadNoopOnEmptyInput(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected, got %s %s", r.Method, r.URL.Path)
	})
	require.NoError(t, client.SetPayload(context.Background(), "c", nil, map[string]any{"deleted": true}))
	require.NoError(t, client.SetPayload(context.Background(), "c", []string{"m1"}, nil))
}
