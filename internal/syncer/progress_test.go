package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressMapper_MapsPhaseRanges(t *testing.T) {
	t.Parallel()

	m := NewProgressMapper(SyncPhaseRanges)

	assert.Equal(t, 0, m.Map(PhaseScanning, 0))
	assert.Equal(t, 5, m.Map(PhaseScanning, 50))
	assert.Equal(t, 10, m.Map(PhaseScanning, 100))
	assert.Equal(t, 15, m.Map(PhaseDeleting, 50))
	assert.Equal(t, 100, m.Map(PhaseComplete, 100))
}

func TestProgressMapper_Monotonic(t *testing.T) {
	t.Parallel()

	m := NewProgressMapper(SyncPhaseRanges)
	m.Map(PhaseCreating, 80) // 90 overall

	// Lower local progress never moves the bar back.
	assert.Equal(t, 90, m.Map(PhaseCreating, 50))
	assert.Equal(t, 90, m.Current())
}

func TestProgressMapper_UnknownPhaseKeepsCurrent(t *testing.T) {
	t.Parallel()

	m := NewProgressMapper(SyncPhaseRanges)
	m.Map(PhaseDeleting, 100)

	assert.Equal(t, 20, m.Map("warming-up", 5))
	assert.Equal(t, PhaseDeleting, m.Phase())
}

func TestProgressMapper_ForceAndReset(t *testing.T) {
	t.Parallel()

	m := NewProgressMapper(SyncPhaseRanges)
	m.Map(PhaseCreating, 50)

	assert.Equal(t, 100, m.Force("failed", 100))
	assert.Equal(t, "failed", m.Phase())

	m.Reset()
	assert.Equal(t, 0, m.Current())
}
