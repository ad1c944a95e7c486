package syncer

import "sync"

// Sync phases, emitted in this order.
const (
	PhaseScanning = "scanning"
	PhaseDeleting = "deleting"
	PhaseUpdating = "updating"
	PhaseRenaming = "renaming"
	PhaseCreating = "creating"
	PhaseComplete = "complete"
)

// SyncPhaseRanges maps each sync phase onto a slice of the overall 0-100
// progress scale. Creation dominates because embedding is the slow part.
var SyncPhaseRanges = map[string][2]int{
	PhaseScanning: {0, 10},
	PhaseDeleting: {10, 20},
	PhaseUpdating: {20, 55},
	PhaseRenaming: {55, 60},
	PhaseCreating: {60, 98},
	PhaseComplete: {98, 100},
}

// Progress is one progress emission.
type Progress struct {
	Phase      string
	Current    int
	Total      int
	Percentage int
	File       string
	Detail     string
}

// ProgressFunc receives progress emissions. May be nil.
type ProgressFunc func(Progress)

// ProgressMapper maps per-phase progress (0-100 within the phase) onto a
// single monotonic overall percentage, so consumers never see the bar move
// backwards when phases of different lengths hand over.
type ProgressMapper struct {
	mu     sync.Mutex
	ranges map[string][2]int
	last   int
	phase  string
}

// NewProgressMapper creates a mapper over the given phase ranges.
func NewProgressMapper(ranges map[string][2]int) *ProgressMapper {
	return &ProgressMapper{ranges: ranges}
}

// Map converts phase-local progress to overall progress. Unknown phases keep
// the current value. The result never decreases across calls.
func (m *ProgressMapper) Map(phase string, phaseProgress int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.ranges[phase]
	if !ok {
		return m.last
	}

	if phaseProgress < 0 {
		phaseProgress = 0
	} else if phaseProgress > 100 {
		phaseProgress = 100
	}

	overall := r[0] + phaseProgress*(r[1]-r[0])/100
	if overall < m.last {
		overall = m.last
	}

	m.last = overall
	m.phase = phase
	return overall
}

// Force records a fixed overall value, still subject to monotonicity. Used
// for terminal states.
func (m *ProgressMapper) Force(phase string, value int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if value < m.last {
		value = m.last
	}
	m.last = value
	m.phase = phase
	return value
}

// Current returns the last overall progress value.
func (m *ProgressMapper) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Phase returns the most recently mapped phase.
func (m *ProgressMapper) Phase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Reset clears state for a new operation.
func (m *ProgressMapper) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = 0
	m.phase = ""
}
