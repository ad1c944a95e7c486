package cli

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ctxstack/ctxd/internal/syncer"
)

// syncProgressReporter renders sync phase progress as a single progress bar
// driven by the mapped overall percentage.
type syncProgressReporter struct {
	quiet bool
	bar   *progressbar.ProgressBar
	last  int
	phase string
}

func newSyncProgressReporter(quiet bool) *syncProgressReporter {
	r := &syncProgressReporter{quiet: quiet}
	if !quiet {
		r.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Syncing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}
	return r
}

// Report implements syncer.ProgressFunc.
func (r *syncProgressReporter) Report(p syncer.Progress) {
	if r.quiet || r.bar == nil {
		return
	}
	if p.Phase != r.phase {
		r.phase = p.Phase
		r.bar.Describe(phaseLabel(p.Phase))
	}
	if p.Percentage > r.last {
		r.bar.Set(p.Percentage)
		r.last = p.Percentage
	}
}

func phaseLabel(phase string) string {
	switch phase {
	case syncer.PhaseScanning:
		return "Scanning files"
	case syncer.PhaseDeleting:
		return "Removing stale chunks"
	case syncer.PhaseUpdating:
		return "Reindexing changed files"
	case syncer.PhaseRenaming:
		return "Patching renamed paths"
	case syncer.PhaseCreating:
		return "Indexing new files"
	case syncer.PhaseComplete:
		return "Finalizing"
	default:
		return "Syncing"
	}
}

// printSyncResult summarizes a finished sync.
func printSyncResult(res *syncer.Result) {
	c := res.Changes
	fmt.Printf("✓ Sync complete in %.1fs: %d created, %d modified, %d deleted, %d renamed, %d unchanged\n",
		res.Duration.Seconds(),
		len(c.Created), len(c.Modified), len(c.Deleted), len(c.Renamed), len(c.Unchanged))
	fmt.Printf("  Chunks: +%d / -%d\n", res.ChunksAdded, res.ChunksRemoved)
	if len(res.Errors) > 0 {
		fmt.Printf("  %d file(s) failed:\n", len(res.Errors))
		for _, fe := range res.Errors {
			fmt.Printf("    %s: %v\n", fe.Path, fe.Err)
		}
	}
}
