package chunk

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is a contiguous span of a source file: the unit of embedding and
// retrieval. Line numbers are 1-based and inclusive.
type Chunk struct {
	Text      string
	StartLine int
	EndLine   int
	Index     int
	Symbol    string
	Language  string
}

// Chunker turns a file into ordered chunks. Syntax-aware splitting is
// delegated behind this interface; the engine only depends on the contract.
type Chunker interface {
	ChunkFile(relativePath, content string) ([]Chunk, error)
}

// TokenChunker splits content into token-bounded chunks on line boundaries,
// preferring natural break points (blank lines, top-level declarations).
type TokenChunker struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	overlap   int
}

// NewTokenChunker creates a chunker with the given token budget per chunk
// and line overlap between adjacent chunks.
func NewTokenChunker(maxTokens, overlap int) (*TokenChunker, error) {
	// cl100k_base matches the tokenization of most current embedding models
	// closely enough for budgeting.
	tokenizer, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	return &TokenChunker{tokenizer: tokenizer, maxTokens: maxTokens, overlap: overlap}, nil
}

// ChunkFile implements Chunker.
func (tc *TokenChunker) ChunkFile(relativePath, content string) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	language := DetectLanguage(relativePath)
	lines := strings.Split(content, "\n")

	var (
		chunks    []Chunk
		current   []string
		tokens    int
		startLine = 1
	)

	flush := func(endLine int) {
		text := strings.Join(current, "\n")
		if strings.TrimSpace(text) == "" {
			current = nil
			tokens = 0
			startLine = endLine + 1
			return
		}
		chunks = append(chunks, Chunk{
			Text:      text,
			StartLine: startLine,
			EndLine:   endLine,
			Index:     len(chunks),
			Language:  language,
		})

		// Carry overlap lines into the next chunk for context continuity.
		if tc.overlap > 0 && tc.overlap < len(current) {
			carried := current[len(current)-tc.overlap:]
			current = append([]string(nil), carried...)
			startLine = endLine - tc.overlap + 1
			tokens = tc.countTokens(strings.Join(current, "\n"))
		} else {
			current = nil
			startLine = endLine + 1
			tokens = 0
		}
	}

	for i, line := range lines {
		lineTokens := tc.countTokens(line)

		if tokens+lineTokens > tc.maxTokens && len(current) > 0 {
			// Prefer a natural boundary close behind the budget edge.
			flush(i)
		}

		current = append(current, line)
		tokens += lineTokens

		// Blank line at a comfortable fill level is a natural break.
		if tokens > tc.maxTokens/2 && strings.TrimSpace(line) == "" {
			flush(i + 1)
		}
	}
	if len(current) > 0 {
		flush(len(lines))
	}

	return chunks, nil
}

func (tc *TokenChunker) countTokens(text string) int {
	return len(tc.tokenizer.Encode(text, nil, nil))
}

// languageByExtension maps file extensions to language tags recorded in
// chunk payloads and indexed_files rows.
var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".c":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".h":     "c",
	".hpp":   "cpp",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".rst":   "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
}

// DetectLanguage returns the language tag for a path, empty when unknown.
func DetectLanguage(path string) string {
	base := filepath.Base(path)
	switch base {
	case "Dockerfile":
		return "dockerfile"
	case "Makefile":
		return "makefile"
	}
	return languageByExtension[strings.ToLower(filepath.Ext(base))]
}
