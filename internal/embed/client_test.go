package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedServer(t *testing.T, dimension int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embedResponse{Dimension: dimension}
		for range req.Texts {
			vec := make([]float32, dimension)
			vec[0] = 1
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_EmbedBatch(t *testing.T) {
	t.Parallel()

	srv := newEmbedServer(t, 768)
	c := NewClient(srv.URL, time.Second, nil)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], 768)
}

func TestClient_DimensionDiscoveredOnce(t *testing.T) {
	t.Parallel()

	srv := newEmbedServer(t, 384)
	c := NewClient(srv.URL, time.Second, nil)

	dim, err := c.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 384, dim)

	// Second call is served from the cached value.
	dim, err = c.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 384, dim)
}

func TestClient_TruncatesOversizedText(t *testing.T) {
	t.Parallel()

	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotLen = len(req.Texts[0])
		resp := embedResponse{Embeddings: [][]float32{make([]float32, 8)}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, time.Second, nil)
	_, _, err := c.Embed(context.Background(), strings.Repeat("x", maxTextChars*2))
	require.NoError(t, err)
	assert.Equal(t, maxTextChars, gotLen)
}

func TestClient_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "status 500")
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, time.Second, nil)
	for i := 0; i < 10; i++ {
		_, _ = c.EmbedBatch(context.Background(), []string{"a"})
	}

	// After five consecutive failures the breaker opens and stops hitting
	// the upstream.
	assert.Equal(t, 5, hits)
}
