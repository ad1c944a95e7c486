package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client talks to the external crawler service. The service owns fetching
// and extraction; this daemon only starts crawls and polls their progress.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a crawler client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("crawler"),
	}
}

// CrawlRequest starts a crawl session.
type CrawlRequest struct {
	StartURL  string `json:"startUrl"`
	Project   string `json:"project"`
	Dataset   string `json:"dataset"`
	CrawlType string `json:"crawlType,omitempty"`
	MaxPages  int    `json:"maxPages,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// CrawlStarted is the crawler's acknowledgement.
type CrawlStarted struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// Progress is a crawl session progress snapshot.
type Progress struct {
	Phase                string `json:"phase"`
	CurrentPhase         string `json:"currentPhase,omitempty"`
	Percentage           int    `json:"percentage"`
	Current              int    `json:"current"`
	Total                int    `json:"total"`
	Status               string `json:"status"`
	ChunksTotal          int    `json:"chunksTotal"`
	ChunksProcessed      int    `json:"chunksProcessed"`
	SummariesGenerated   int    `json:"summariesGenerated"`
	EmbeddingsGenerated  int    `json:"embeddingsGenerated"`
	PhaseDetail          string `json:"phaseDetail,omitempty"`
}

// Terminal reports whether the session reached a final status.
func (p Progress) Terminal() bool {
	switch p.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// Page is one crawled page ready for ingestion.
type Page struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StartCrawl begins a crawl and returns the session handle.
func (c *Client) StartCrawl(ctx context.Context, req CrawlRequest) (*CrawlStarted, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/crawl", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("crawl request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("crawler returned status %d: %s", resp.StatusCode, data)
	}

	var out CrawlStarted
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode crawl response: %w", err)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("crawler returned no session id")
	}
	return &out, nil
}

// GetPages fetches crawled pages starting at offset. Pages stream out in
// crawl order, so callers page through with a growing offset while the
// session runs.
func (c *Client) GetPages(ctx context.Context, sessionID string, offset int) ([]Page, error) {
	url := fmt.Sprintf("%s/pages/%s?offset=%d", c.baseURL, sessionID, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pages request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("crawler returned status %d: %s", resp.StatusCode, data)
	}

	var out struct {
		Pages []Page `json:"pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode pages response: %w", err)
	}
	return out.Pages, nil
}

// GetProgress fetches the current progress for a session.
func (c *Client) GetProgress(ctx context.Context, sessionID string) (*Progress, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/progress/"+sessionID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("progress request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("unknown crawl session %s", sessionID)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("crawler returned status %d: %s", resp.StatusCode, data)
	}

	var out Progress
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode progress response: %w", err)
	}
	return &out, nil
}
