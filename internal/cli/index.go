package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctxstack/ctxd/internal/engine"
	"github.com/ctxstack/ctxd/internal/syncer"
)

var (
	indexProject   string
	indexDataset   string
	indexForce     bool
	indexNoRenames bool
	indexQuiet     bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a directory tree into a project dataset",
	Long: `Index runs one incremental sync of a directory tree into the given
project and dataset. Only files whose content hash changed since the last run
are re-embedded; deletions and renames are reconciled against the vector
collection before anything new is written.

Examples:
  # Index the current directory into myproject/local
  ctxd index -p myproject

  # Full reindex, ignoring stored file metadata
  ctxd index -p myproject -d docs --force ./docs
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve path %q: %w", path, err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		eng, err := engine.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		reporter := newSyncProgressReporter(indexQuiet)
		res, err := eng.SyncPath(cmd.Context(), abs, indexProject, indexDataset, syncer.Options{
			Force:         indexForce,
			DetectRenames: !indexNoRenames,
			Progress:      reporter.Report,
		})
		if err != nil {
			return err
		}
		if !indexQuiet {
			printSyncResult(res)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVarP(&indexProject, "project", "p", "", "project name (required)")
	indexCmd.Flags().StringVarP(&indexDataset, "dataset", "d", "local", "dataset name")
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "clear stored metadata and reindex every file")
	indexCmd.Flags().BoolVar(&indexNoRenames, "no-renames", false, "disable rename detection")
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "disable progress output")
	indexCmd.MarkFlagRequired("project")
}
