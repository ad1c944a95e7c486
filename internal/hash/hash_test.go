package hash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestHashString_Stability(t *testing.T) {
	t.Parallel()

	// Same input always produces the same hash.
	assert.Equal(t, HashString("hello"), HashString("hello"))

	// One byte of difference changes the hash.
	assert.NotEqual(t, HashString("hello"), HashString("hellp"))

	// Known vector for empty string.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashString(""))
}

func TestHashFile_MatchesHashString(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	writeFile(t, path, "print('hi')\n")

	calc := NewCalculator(nil)
	sum, err := calc.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashString("print('hi')\n"), sum)
}

func TestHashFile_NotFound(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(nil)
	_, err := calc.HashFile(filepath.Join(t.TempDir(), "missing.go"))
	assert.Error(t, err)
}

func TestHashAll_BoundedBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		path := filepath.Join(dir, fmt.Sprintf("f%02d.go", i))
		writeFile(t, path, fmt.Sprintf("package f%d\n", i))
		paths = append(paths, path)
	}

	calc := NewCalculator(nil)
	results, err := calc.HashAll(context.Background(), paths, 4)
	require.NoError(t, err)
	require.Len(t, results, 50)

	for i, path := range paths {
		assert.Equal(t, HashString(fmt.Sprintf("package f%d\n", i)), results[path])
	}
}

func TestHashAll_OmitsFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.go")
	writeFile(t, good, "package good\n")
	missing := filepath.Join(dir, "missing.go")

	calc := NewCalculator(nil)
	results, err := calc.HashAll(context.Background(), []string{good, missing}, 2)
	require.NoError(t, err)

	// Failed file is omitted, not mapped to an empty hash.
	assert.Len(t, results, 1)
	_, ok := results[missing]
	assert.False(t, ok)
}

func TestHashAll_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calc := NewCalculator(nil)
	_, err := calc.HashAll(ctx, []string{"a", "b"}, 1)
	assert.Error(t, err)
}
