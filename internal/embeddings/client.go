package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nugget/docent/internal/httpkit"
)

// ErrDimensionMismatch is returned when the backend starts producing
// vectors of a different width than it did earlier in the process,
// usually because the embedding model was swapped underneath a store.
var ErrDimensionMismatch = errors.New("embedding dimension changed")

// Client generates embeddings with Ollama's /api/embed endpoint. A batch
// is sent as one request.
type Client struct {
	baseURL string
	model   string
	client  *http.Client

	// dims is the vector width of the first successful response.
	dims atomic.Int64
}

// Config for the Ollama embedding client.
type Config struct {
	BaseURL string // Ollama base URL, e.g. http://localhost:11434
	Model   string // default nomic-embed-text
}

// New creates an Ollama embedding client.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
		),
	}
}

// Dimensions returns the vector width observed so far, or 0 before the
// first successful call.
func (c *Client) Dimensions() int {
	return int(c.dims.Load())
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Generate embeds a single text.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateBatch embeds texts in one request, preserving order.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errBody)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	for i, v := range out.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("ollama returned an empty embedding for input %d (model %s)", i, c.model)
		}
		if err := c.checkDims(len(v)); err != nil {
			return nil, err
		}
	}
	return out.Embeddings, nil
}

func (c *Client) checkDims(n int) error {
	if c.dims.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := c.dims.Load(); int64(n) != want {
		return fmt.Errorf("%w: model %s returned %d, expected %d", ErrDimensionMismatch, c.model, n, want)
	}
	return nil
}
