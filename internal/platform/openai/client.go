package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/osok/project-memory/internal/platform/logger"
)

// Embedder turns text into fixed-length vectors. The production
// implementation talks to the OpenAI embeddings endpoint; tests substitute a
// deterministic fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

const (
	defaultEmbedModel = "text-embedding-3-small"
	defaultDimension  = 1536

	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
)

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	embedModel string
	dimension  int
	httpClient *http.Client

	maxRetries     int
	retryBaseDelay time.Duration
}

func NewClient(log *logger.Logger) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("openai: logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	embedModel := strings.TrimSpace(os.Getenv("OPENAI_EMBED_MODEL"))
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}

	dimension := defaultDimension
	if v := strings.TrimSpace(os.Getenv("OPENAI_EMBED_DIMENSION")); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &dimension); err != nil || dimension <= 0 {
			return nil, fmt.Errorf("invalid OPENAI_EMBED_DIMENSION=%q", v)
		}
	}

	return &client{
		log:            log.With("client", "OpenAI"),
		baseURL:        baseURL,
		apiKey:         apiKey,
		embedModel:     embedModel,
		dimension:      dimension,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		maxRetries:     defaultMaxRetries,
		retryBaseDelay: defaultRetryBaseDelay,
	}, nil
}

func (c *client) Dimension() int { return c.dimension }

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("openai: expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// The embeddings endpoint rejects empty strings.
	clean := make([]string, len(texts))
	for i := range texts {
		s := strings.TrimSpace(texts[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{
		Model: c.embedModel,
		Input: clean,
	}
	if c.embedModel != defaultEmbedModel || c.dimension != defaultDimension {
		req.Dimensions = c.dimension
	}

	var resp embeddingsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("openai: embeddings response missing index %d (requested=%d returned=%d)",
				i, len(clean), len(resp.Data))
		}
	}
	return out, nil
}

func (c *client) do(ctx context.Context, method, path string, in any, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		lastErr = c.doOnce(ctx, method, path, in, out)
		if lastErr == nil || !isTransientError(lastErr) {
			return lastErr
		}
		if attempt == c.maxRetries-1 {
			break
		}
		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		c.log.Debug("openai transient error, retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"delay", delay.String(),
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("openai: context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		c.log.Warn("openai request failed after retries", "max_retries", c.maxRetries, "error", lastErr)
	}
	return lastErr
}

func (c *client) doOnce(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("openai: encode request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512] + "..."
		}
		return fmt.Errorf("openai: http status=%d body=%q", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"status=429",
		"status=500",
		"status=502",
		"status=503",
		"status=504",
		"connection",
		"timeout",
		"deadline exceeded",
		"unavailable",
		"temporary",
		"broken pipe",
		"connection reset",
		"connection refused",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
