package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ctxstack/ctxd/internal/vector"
)

// SparseClient talks to the sparse encoder service (SPLADE-style) used for
// hybrid search. Optional: a nil *SparseClient disables hybrid encoding.
type SparseClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSparseClient creates a sparse encoder client.
func NewSparseClient(baseURL string, timeout time.Duration, logger *zap.Logger) *SparseClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SparseClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("sparse"),
	}
}

type sparseRequest struct {
	Text string `json:"text"`
}

type sparseResponse struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// EncodeSparse implements SparseEncoder.
func (c *SparseClient) EncodeSparse(ctx context.Context, text string) (*vector.SparseVector, error) {
	if len(text) > maxTextChars {
		text = text[:maxTextChars]
	}

	body, err := json.Marshal(sparseRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparse encode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sparse encoder returned status %d: %s", resp.StatusCode, data)
	}

	var out sparseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode sparse response: %w", err)
	}
	if len(out.Indices) != len(out.Values) {
		return nil, fmt.Errorf("sparse encoder returned %d indices for %d values",
			len(out.Indices), len(out.Values))
	}

	return &vector.SparseVector{Indices: out.Indices, Values: out.Values}, nil
}
