package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCrawl(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/crawl", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CrawlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://docs.example.com", req.StartURL)
		assert.Equal(t, "demo", req.Project)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(CrawlStarted{SessionID: "sess-1", Status: "running"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)
	started, err := c.StartCrawl(context.Background(), CrawlRequest{
		StartURL: "https://docs.example.com",
		Project:  "demo",
		Dataset:  "docs",
		MaxPages: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", started.SessionID)
	assert.Equal(t, "running", started.Status)
}

func TestStartCrawl_MissingSessionIDIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CrawlStarted{Status: "running"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0, nil).StartCrawl(context.Background(), CrawlRequest{
		StartURL: "https://docs.example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session id")
}

func TestStartCrawl_UpstreamErrorIncludesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "crawler busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0, nil).StartCrawl(context.Background(), CrawlRequest{
		StartURL: "https://docs.example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "crawler busy")
}

func TestGetProgress(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/progress/sess-1", r.URL.Path)
		json.NewEncoder(w).Encode(Progress{
			Phase:      "crawling",
			Percentage: 40,
			Current:    4,
			Total:      10,
			Status:     "running",
		})
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, 0, nil).GetProgress(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "crawling", p.Phase)
	assert.Equal(t, 40, p.Percentage)
	assert.False(t, p.Terminal())
}

func TestGetProgress_UnknownSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0, nil).GetProgress(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown crawl session")
}

func TestGetPages_PagesThroughWithOffset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pages/sess-1", r.URL.Path)
		offset := r.URL.Query().Get("offset")

		var pages []Page
		if offset == "0" {
			pages = []Page{
				{URL: "https://docs.example.com/a", Title: "A", Content: "alpha"},
				{URL: "https://docs.example.com/b", Title: "B", Content: "beta"},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"pages": pages})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil)

	first, err := c.GetPages(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "alpha", first[0].Content)

	rest, err := c.GetPages(context.Background(), "sess-1", 2)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestProgress_Terminal(t *testing.T) {
	t.Parallel()

	for _, status := range []string{"completed", "failed", "cancelled"} {
		assert.True(t, Progress{Status: status}.Terminal(), status)
	}
	for _, status := range []string{"running", "pending", ""} {
		assert.False(t, Progress{Status: status}.Terminal(), status)
	}
}

func TestGetProgress_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL, 0, nil).GetProgress(ctx, "sess-1")
	require.Error(t, err)
}
