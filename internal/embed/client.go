package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/vector"
)

// Embedder produces dense vectors for texts. The provider is external; this
// package only knows the HTTP contract.
type Embedder interface {
	// Embed returns the vector for one text and its dimension.
	Embed(ctx context.Context, text string) ([]float32, int, error)

	// EmbedBatch returns vectors for texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, discovering it with a probe
	// embedding on first call.
	Dimension(ctx context.Context) (int, error)
}

// SparseEncoder optionally produces sparse lexical vectors for hybrid
// search.
type SparseEncoder interface {
	EncodeSparse(ctx context.Context, text string) (*vector.SparseVector, error)
}

// maxTextChars truncates oversized inputs before they hit provider token
// limits.
const maxTextChars = 6000

// Client talks to the embedding service over HTTP. Calls run through a
// circuit breaker so a dead provider fails fast instead of piling up
// timeouts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger

	mu        sync.Mutex
	dimension int
}

// NewClient creates an embedding client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedder",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger.Named("embed"),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimension  int         `json:"dimension"`
}

// Embed implements Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, int, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vecs[0], len(vecs[0]), nil
}

// EmbedBatch implements Embedder.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	truncated := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > maxTextChars {
			t = t[:maxTextChars]
		}
		truncated[i] = t
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, "/embed", embedRequest{Texts: truncated})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	resp := result.(*embedResponse)
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts",
			len(resp.Embeddings), len(texts))
	}

	c.mu.Lock()
	if c.dimension == 0 && len(resp.Embeddings) > 0 {
		c.dimension = len(resp.Embeddings[0])
	}
	c.mu.Unlock()

	return resp.Embeddings, nil
}

// Dimension implements Embedder.
func (c *Client) Dimension(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.dimension != 0 {
		d := c.dimension
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	_, dim, err := c.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("failed to discover embedding dimension: %w", err)
	}
	return dim, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*embedResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedder returned status %d: %s", resp.StatusCode, data)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embedder response: %w", err)
	}
	return &out, nil
}
