package store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/ctxstack/ctxd/internal/hash"
)

// WebPageID derives a stable page ID from its dataset and URL so re-crawls
// update rather than duplicate.
func WebPageID(datasetID uuid.UUID, pageURL string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(datasetID.String()+":"+pageURL))
}

// UpsertWebPage persists one crawled page. Pages with empty content are
// skipped by callers; here the row is written unconditionally.
func (s *Store) UpsertWebPage(ctx context.Context, page WebPage) (uuid.UUID, error) {
	if page.ID == uuid.Nil {
		page.ID = WebPageID(page.DatasetID, page.URL)
	}
	if page.Metadata == nil {
		page.Metadata = map[string]any{}
	}
	if u, err := url.Parse(page.URL); err == nil {
		page.Metadata["domain"] = u.Host
	}
	if page.Content != "" {
		page.Metadata["content_hash"] = hash.HashString(page.Content)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO claude_context.web_pages
		   (id, dataset_id, url, title, content, status, metadata, crawled_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'indexed', $6, NOW(), NOW())
		 ON CONFLICT (dataset_id, url) DO UPDATE SET
		   title = EXCLUDED.title,
		   content = EXCLUDED.content,
		   status = 'indexed',
		   metadata = EXCLUDED.metadata,
		   updated_at = NOW()`,
		page.ID, page.DatasetID, page.URL, page.Title, page.Content, page.Metadata)
	if err != nil {
		return uuid.Nil, mapErr(err)
	}
	return page.ID, nil
}

// WebChunk is one embedded chunk of a crawled page.
type WebChunk struct {
	DatasetID  uuid.UUID
	WebPageID  uuid.UUID
	ChunkIndex int
	Text       string
	Summary    string
	Embedding  []float32
	Metadata   map[string]any
}

// stableChunkID keys a chunk by page, index and content digest so re-ingests
// are idempotent.
func stableChunkID(c WebChunk) uuid.UUID {
	seed := fmt.Sprintf("%s:%d:%s", c.WebPageID, c.ChunkIndex, hash.HashString(c.Text))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed))
}

// vectorLiteral renders an embedding as a pgvector text literal.
func vectorLiteral(embedding []float32) string {
	buf := make([]byte, 0, len(embedding)*10+2)
	buf = append(buf, '[')
	for i, v := range embedding {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = fmt.Appendf(buf, "%g", v)
	}
	return string(append(buf, ']'))
}

// UpsertWebChunks records chunk rows with embeddings in
// claude_context.chunks. Chunks without an embedding are skipped. Returns
// the number of rows written.
func (s *Store) UpsertWebChunks(ctx context.Context, chunks []WebChunk) (int, error) {
	written := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO claude_context.chunks
			   (id, dataset_id, web_page_id, source_type, chunk_index, text, summary, embedding, metadata)
			 VALUES ($1, $2, $3, 'web', $4, $5, $6, $7::vector, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   text = EXCLUDED.text,
			   summary = EXCLUDED.summary,
			   embedding = EXCLUDED.embedding,
			   metadata = EXCLUDED.metadata`,
			stableChunkID(c), c.DatasetID, c.WebPageID, c.ChunkIndex,
			c.Text, c.Summary, vectorLiteral(c.Embedding), c.Metadata)
		if err != nil {
			return written, mapErr(err)
		}
		written++
	}
	return written, nil
}
