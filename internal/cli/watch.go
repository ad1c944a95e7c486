package cli

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ctxstack/ctxd/internal/scope"
	"github.com/ctxstack/ctxd/internal/store"
)

var (
	watchProject    string
	watchDataset    string
	watchDebounceMs int
	watchDisabled   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage persistent file watchers",
	Long: `Watch registrations are stored in PostgreSQL and picked up by the
running daemon, which debounces filesystem events into incremental syncs.`,
}

var watchAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a watched directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path %q: %w", args[0], err)
		}

		ctx := cmd.Context()
		cfg, logger, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		scopes, err := scope.NewManager(st, logger)
		if err != nil {
			return err
		}
		projectID, _, err := scopes.ResolveProject(ctx, watchProject)
		if err != nil {
			return err
		}
		datasetID, _, err := scopes.ResolveDataset(ctx, projectID, watchDataset, store.ScopeLocal)
		if err != nil {
			return err
		}

		debounce := watchDebounceMs
		if debounce <= 0 {
			debounce = cfg.Watcher.DebounceMs
		}
		wc := store.WatchConfig{
			ID:          store.WatchConfigID(projectID, datasetID, abs),
			ProjectID:   projectID,
			ProjectName: watchProject,
			DatasetID:   datasetID,
			Path:        abs,
			Enabled:     !watchDisabled,
			AutoStart:   true,
			DebounceMs:  debounce,
		}
		if err := st.UpsertWatchConfig(ctx, wc); err != nil {
			return err
		}
		fmt.Printf("✓ Registered watch %s on %s (%s/%s)\n", wc.ID, abs, watchProject, watchDataset)
		return nil
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watch registrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, logger, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		configs, err := st.ListWatchConfigs(ctx)
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Println("No watches registered.")
			return nil
		}
		for _, w := range configs {
			state := "enabled"
			if !w.Enabled {
				state = "disabled"
			}
			fmt.Printf("%s  %-8s  debounce=%dms  %s\n", w.ID, state, w.DebounceMs, w.Path)
		}
		return nil
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a watch registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid watch id %q: %w", args[0], err)
		}

		ctx := cmd.Context()
		_, logger, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		if err := st.DeleteWatchConfig(ctx, id); err != nil {
			return err
		}
		fmt.Printf("✓ Removed watch %s\n", id)
		return nil
	},
}

func setWatchEnabled(cmd *cobra.Command, rawID string, enabled bool) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid watch id %q: %w", rawID, err)
	}

	ctx := cmd.Context()
	_, logger, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer st.Close()

	return st.SetWatchEnabled(ctx, id, enabled)
}

var watchEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWatchEnabled(cmd, args[0], true)
	},
}

var watchDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWatchEnabled(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchAddCmd, watchListCmd, watchRemoveCmd, watchEnableCmd, watchDisableCmd)

	watchAddCmd.Flags().StringVarP(&watchProject, "project", "p", "", "project name (required)")
	watchAddCmd.Flags().StringVarP(&watchDataset, "dataset", "d", "local", "dataset name")
	watchAddCmd.Flags().IntVar(&watchDebounceMs, "debounce-ms", 0, "debounce window (default from config)")
	watchAddCmd.Flags().BoolVar(&watchDisabled, "disabled", false, "register without starting")
	watchAddCmd.MarkFlagRequired("project")
}
