package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osok/project-memory/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// Point is one stored vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Score   float64        `json:"score,omitempty"`
}

// Client talks to a Qdrant instance over its HTTP API. Collections are passed
// per call; the memory layer derives one collection per (project, type).
type Client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg, true); err != nil {
		return nil, err
	}
	return &Client{
		log:     log.With("client", "Qdrant"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// VectorDim returns the configured embedding dimensionality.
func (c *Client) VectorDim() int { return c.cfg.VectorDim }

// Ping verifies the engine is reachable. A failure here means the whole
// engine is down, which callers must treat as fatal (unlike a missing
// collection).
func (c *Client) Ping(ctx context.Context) error {
	const op = "ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", resp.StatusCode),
		}
	}
	return nil
}

// EnsureCollection creates the collection if it does not exist. Cosine
// distance, size from the client config.
func (c *Client) EnsureCollection(ctx context.Context, collection string) error {
	const op = "ensure_collection"
	exists, err := c.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	req := map[string]any{
		"vectors": map[string]any{
			"size":     c.cfg.VectorDim,
			"distance": "Cosine",
		},
	}
	if err := c.doJSON(ctx, op, http.MethodPut, c.collectionPath(collection, ""), req, nil); err != nil {
		return err
	}
	c.log.Debug("qdrant collection created", "collection", collection, "vector_dim", c.cfg.VectorDim)
	return nil
}

// CollectionExists checks for the collection without treating absence as an
// error.
func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	const op = "collection_exists"
	err := c.doJSON(ctx, op, http.MethodGet, c.collectionPath(collection, ""), nil, nil)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Upsert writes points into the collection, creating the collection on first
// write.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has empty vector", id), nil)
		}
		if c.cfg.VectorDim > 0 && len(p.Vector) != c.cfg.VectorDim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", id, c.cfg.VectorDim, len(p.Vector)),
				nil,
			)
		}
		body = append(body, map[string]any{
			"id":      id,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	if err := c.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	req := map[string]any{"points": body}
	return c.doJSON(ctx, op, http.MethodPut, c.collectionPath(collection, "/points?wait=true"), req, nil)
}

// GetPoints retrieves points by id with payload and vector. Missing ids are
// simply absent from the result; a missing collection yields an empty result.
func (c *Client) GetPoints(ctx context.Context, collection string, ids []string) ([]Point, error) {
	const op = "get_points"
	if len(ids) == 0 {
		return nil, nil
	}
	req := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  true,
	}
	var raw []struct {
		ID      json.RawMessage `json:"id"`
		Vector  []float32       `json:"vector"`
		Payload map[string]any  `json:"payload"`
	}
	err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath(collection, "/points"), req, &raw)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Point, 0, len(raw))
	for _, item := range raw {
		out = append(out, Point{
			ID:      decodePointID(item.ID),
			Vector:  item.Vector,
			Payload: item.Payload,
		})
	}
	return out, nil
}

// ScrollResult carries one scroll page and the cursor for the next one. A nil
// NextOffset means the scroll is exhausted.
type ScrollResult struct {
	Points     []Point
	NextOffset json.RawMessage
}

// Scroll pages through a collection with an optional conjunctive filter.
// offset is the NextOffset from the previous page (nil for the first page).
// A missing collection is an empty, exhausted result.
func (c *Client) Scroll(ctx context.Context, collection string, filter map[string]any, limit int, offset json.RawMessage) (ScrollResult, error) {
	const op = "scroll"
	if limit <= 0 {
		limit = 100
	}
	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if len(filter) > 0 {
		req["filter"] = filter
	}
	if len(offset) > 0 {
		req["offset"] = offset
	}
	var raw struct {
		Points []struct {
			ID      json.RawMessage `json:"id"`
			Vector  []float32       `json:"vector"`
			Payload map[string]any  `json:"payload"`
		} `json:"points"`
		NextPageOffset json.RawMessage `json:"next_page_offset"`
	}
	err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath(collection, "/points/scroll"), req, &raw)
	if err != nil {
		if IsNotFound(err) {
			return ScrollResult{}, nil
		}
		return ScrollResult{}, err
	}
	out := ScrollResult{Points: make([]Point, 0, len(raw.Points))}
	for _, item := range raw.Points {
		out.Points = append(out.Points, Point{
			ID:      decodePointID(item.ID),
			Vector:  item.Vector,
			Payload: item.Payload,
		})
	}
	if len(raw.NextPageOffset) > 0 && string(raw.NextPageOffset) != "null" {
		out.NextOffset = raw.NextPageOffset
	}
	return out, nil
}

// Search runs a top-k similarity search with an optional conjunctive filter.
// A missing collection is an empty result.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]Point, error) {
	const op = "search"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if c.cfg.VectorDim > 0 && len(vector) != c.cfg.VectorDim {
		return nil, opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", c.cfg.VectorDim, len(vector)),
			nil,
		)
	}
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if len(filter) > 0 {
		req["filter"] = filter
	}
	var raw []struct {
		ID      json.RawMessage `json:"id"`
		Score   float64         `json:"score"`
		Payload map[string]any  `json:"payload"`
	}
	err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath(collection, "/points/search"), req, &raw)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Point, 0, len(raw))
	for _, item := range raw {
		out = append(out, Point{
			ID:      decodePointID(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out, nil
}

// SetPayload merges payload keys onto the given points without touching their
// vectors.
func (c *Client) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	const op = "set_payload"
	if len(ids) == 0 || len(payload) == 0 {
		return nil
	}
	req := map[string]any{
		"points":  ids,
		"payload": payload,
	}
	return c.doJSON(ctx, op, http.MethodPost, c.collectionPath(collection, "/points/payload?wait=true"), req, nil)
}

// DeletePoints removes points permanently.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	const op = "delete_points"
	if len(ids) == 0 {
		return nil
	}
	req := map[string]any{"points": ids}
	err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath(collection, "/points/delete?wait=true"), req, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// Count returns the number of points matching the filter. Missing collection
// counts as zero.
func (c *Client) Count(ctx context.Context, collection string, filter map[string]any) (int, error) {
	const op = "count"
	req := map[string]any{"exact": true}
	if len(filter) > 0 {
		req["filter"] = filter
	}
	var raw struct {
		Count int `json:"count"`
	}
	err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath(collection, "/points/count"), req, &raw)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return raw.Count, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return &OperationError{
			Code:       OperationErrorNotFound,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=404 body=%q", truncateBody(raw)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
}

func (c *Client) collectionPath(collection, suffix string) string {
	path := "/collections/" + url.PathEscape(collection)
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}
