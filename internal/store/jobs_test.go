package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Exponential(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second

	assert.Equal(t, 30*time.Second, Backoff(base, 1))
	assert.Equal(t, 60*time.Second, Backoff(base, 2))
	assert.Equal(t, 120*time.Second, Backoff(base, 3))

	// Retry below 1 is treated as the first retry.
	assert.Equal(t, 30*time.Second, Backoff(base, 0))

	// Zero base falls back to the default.
	assert.Equal(t, DefaultRetryBackoffBase, Backoff(0, 1))
}

func TestBackoff_Capped(t *testing.T) {
	t.Parallel()

	assert.Equal(t, maxBackoff, Backoff(30*time.Second, 20))
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobPending.Terminal())
	assert.False(t, JobInProgress.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobCancelled.Terminal())
}

func TestVectorLiteral(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[1,0.5,-2]", vectorLiteral([]float32{1, 0.5, -2}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"stats_updates"`, quoteIdent("stats_updates"))
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}
