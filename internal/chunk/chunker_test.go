package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenChunker_SmallFileSingleChunk(t *testing.T) {
	t.Parallel()

	tc, err := NewTokenChunker(512, 0)
	require.NoError(t, err)

	content := "package main\n\nfunc main() {}\n"
	chunks, err := tc.ChunkFile("main.go", content)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, content, chunks[0].Text)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, "go", chunks[0].Language)
}

func TestTokenChunker_SplitsLargeFile(t *testing.T) {
	t.Parallel()

	tc, err := NewTokenChunker(64, 0)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "const value%03d = %d // a reasonably long declaration line\n", i, i)
	}

	chunks, err := tc.ChunkFile("consts.go", b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Chunks are ordered and contiguous.
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		if i > 0 {
			assert.Equal(t, chunks[i-1].EndLine+1, c.StartLine)
		}
	}
}

func TestTokenChunker_OverlapCarriesLines(t *testing.T) {
	t.Parallel()

	tc, err := NewTokenChunker(32, 2)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "line %02d with some padding words here\n", i)
	}

	chunks, err := tc.ChunkFile("notes.md", b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Adjacent chunks share the overlap region.
	first := strings.Split(chunks[0].Text, "\n")
	second := strings.Split(chunks[1].Text, "\n")
	assert.Equal(t, first[len(first)-1], second[1])
}

func TestTokenChunker_EmptyContent(t *testing.T) {
	t.Parallel()

	tc, err := NewTokenChunker(512, 0)
	require.NoError(t, err)

	chunks, err := tc.ChunkFile("empty.go", "   \n  \n")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "go", DetectLanguage("cmd/app/main.go"))
	assert.Equal(t, "python", DetectLanguage("scripts/run.PY"))
	assert.Equal(t, "dockerfile", DetectLanguage("services/api/Dockerfile"))
	assert.Equal(t, "", DetectLanguage("image.png"))
}
