package ignore

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultBlacklist is always ignored regardless of repository ignore files.
// VCS metadata, dependency trees, build outputs, IDE state and caches.
var defaultBlacklist = []string{
	".git/",
	".hg/",
	".svn/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"out/",
	"target/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".idea/",
	".vscode/",
	".cache/",
	"*.swp",
	"*.swo",
	"*~",
	".DS_Store",
	"*.pyc",
	"*.min.js",
	"*.bundle.js",
}

// sourceExtensions is the set of file extensions admitted for indexing.
var sourceExtensions = map[string]bool{
	".go":    true,
	".py":    true,
	".js":    true,
	".jsx":   true,
	".ts":    true,
	".tsx":   true,
	".rs":    true,
	".c":     true,
	".cc":    true,
	".cpp":   true,
	".h":     true,
	".hpp":   true,
	".java":  true,
	".kt":    true,
	".rb":    true,
	".php":   true,
	".cs":    true,
	".swift": true,
	".scala": true,
	".sh":    true,
	".bash":  true,
	".sql":   true,
	".proto": true,
	".md":    true,
	".rst":   true,
	".txt":   true,
	".json":  true,
	".yaml":  true,
	".yml":   true,
	".toml":  true,
}

// wellKnownFilenames are extensionless files admitted by exact name.
var wellKnownFilenames = map[string]bool{
	"Dockerfile":          true,
	"Makefile":            true,
	"docker-compose.yml":  true,
	"docker-compose.yaml": true,
}

// Matcher decides whether a repository-relative path should be indexed.
// It composes the built-in blacklist with .gitignore and .dockerignore found
// at the codebase root, then applies a source-extension allowlist.
type Matcher struct {
	defaults *gitignore.GitIgnore
	repo     *gitignore.GitIgnore
}

// NewMatcher builds a matcher for the given codebase root. Missing ignore
// files are not an error.
func NewMatcher(rootDir string) (*Matcher, error) {
	m := &Matcher{
		defaults: gitignore.CompileIgnoreLines(defaultBlacklist...),
	}

	var lines []string
	for _, name := range []string{".gitignore", ".dockerignore"} {
		path := filepath.Join(rootDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	if len(lines) > 0 {
		m.repo = gitignore.CompileIgnoreLines(lines...)
	}

	return m, nil
}

// ShouldIndex reports whether relPath is admitted: not ignored by the
// blacklist or repository ignore files, and carries a known source extension
// or well-known filename.
func (m *Matcher) ShouldIndex(relPath string) bool {
	relPath = filepath.ToSlash(relPath)

	if m.IsIgnored(relPath) {
		return false
	}

	base := filepath.Base(relPath)
	if wellKnownFilenames[base] {
		return true
	}

	return sourceExtensions[strings.ToLower(filepath.Ext(base))]
}

// IsIgnored reports whether relPath matches the blacklist or the repository
// ignore files. Gitignore semantics apply: directory suffixes, anchored
// patterns and negations.
func (m *Matcher) IsIgnored(relPath string) bool {
	relPath = filepath.ToSlash(relPath)

	if m.defaults.MatchesPath(relPath) {
		return true
	}
	if m.repo != nil && m.repo.MatchesPath(relPath) {
		return true
	}
	return false
}

// SkipDir reports whether a directory subtree can be pruned from a walk.
// Used by tree walkers and watchers so ignored trees are never descended.
func (m *Matcher) SkipDir(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	if relPath == "." || relPath == "" {
		return false
	}
	return m.IsIgnored(relPath + "/")
}
