package hash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// inMemoryThreshold is the file size above which hashing switches from a
// single read to streamed chunks.
const inMemoryThreshold = 10 * 1024 * 1024 // 10 MiB

// streamBufferSize is the read size used when streaming large files.
const streamBufferSize = 64 * 1024

// Calculator computes content hashes of files. Safe for concurrent use.
type Calculator struct {
	logger *zap.Logger
}

// NewCalculator creates a hash calculator.
func NewCalculator(logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{logger: logger.Named("hash")}
}

// HashFile returns the lowercase hex SHA-256 of the file contents.
// Files up to 10 MiB are read in one call; larger files are streamed so the
// whole file is never held in memory.
func (c *Calculator) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.Size() <= inMemoryThreshold {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, streamBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashAll hashes paths with at most maxConcurrency files open at once and
// returns a path→hash map. Files that fail to hash are logged and omitted
// from the result rather than mapped to an empty hash.
func (c *Calculator) HashAll(ctx context.Context, paths []string, maxConcurrency int) (map[string]string, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	results := make(map[string]string, len(paths))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, path := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled - wait for in-flight hashes, then bail.
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)

			sum, err := c.HashFile(path)
			if err != nil {
				c.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
				return
			}

			mu.Lock()
			results[path] = sum
			mu.Unlock()
		}(path)
	}

	wg.Wait()
	return results, nil
}

// HashString returns the lowercase hex SHA-256 of s. Pure helper for tests
// and for content-addressed IDs.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
