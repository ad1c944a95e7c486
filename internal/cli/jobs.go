package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ctxstack/ctxd/internal/scope"
	"github.com/ctxstack/ctxd/internal/store"
)

var (
	jobsProject string
	jobsDataset string
	jobsBranch  string
	jobsSHA     string
	jobsLimit   int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage repository ingestion jobs",
	Long: `Jobs queue repository ingestion in PostgreSQL. The running daemon's
worker loop claims pending jobs, clones the ref and indexes it into the
dataset's collection, retrying failures with exponential backoff.`,
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <repo-url>",
	Short: "Queue a repository for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		org, name := splitRepoURL(args[0])
		dataset := jobsDataset
		if dataset == "" {
			dataset = name
		}

		projectID, _, err := scopes.ResolveProject(ctx, jobsProject)
		if err != nil {
			return err
		}
		datasetID, _, err := scopes.ResolveDataset(ctx, projectID, dataset, store.ScopeLocal)
		if err != nil {
			return err
		}
		job, err := st.EnqueueJob(ctx, store.GitHubJob{
			ProjectID:  projectID,
			DatasetID:  datasetID,
			RepoURL:    args[0],
			RepoOrg:    org,
			RepoName:   name,
			Branch:     jobsBranch,
			SHA:        jobsSHA,
			MaxRetries: cfg.Jobs.MaxRetries,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Queued job %s for %s (branch %s)\n", job.ID, job.RepoURL, job.Branch)
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, logger, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		jobs, err := st.ListRecentJobs(ctx, jobsLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("%s  %-11s  %3d%%  %s/%s@%s", j.ID, j.Status, j.Progress,
				j.RepoOrg, j.RepoName, j.Branch)
			if j.Error != "" {
				fmt.Printf("  error=%q", j.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}

		ctx := cmd.Context()
		_, logger, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		j, err := st.GetJob(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s\n", j.ID)
		fmt.Printf("  repo:     %s (branch %s)\n", j.RepoURL, j.Branch)
		fmt.Printf("  status:   %s  progress=%d%%  phase=%s\n", j.Status, j.Progress, j.CurrentPhase)
		fmt.Printf("  retries:  %d/%d\n", j.RetryCount, j.MaxRetries)
		if j.CurrentFile != "" {
			fmt.Printf("  file:     %s\n", j.CurrentFile)
		}
		if j.Error != "" {
			fmt.Printf("  error:    %s\n", j.Error)
		}
		if j.CompletedAt != nil {
			fmt.Printf("  result:   %d files, %d chunks\n", j.IndexedFiles, j.TotalChunks)
		}
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}

		ctx := cmd.Context()
		_, logger, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer st.Close()

		if err := st.CancelJob(ctx, id); err != nil {
			return err
		}
		fmt.Printf("✓ Cancelled job %s\n", id)
		return nil
	},
}

// splitRepoURL extracts (org, name) from common repository URL shapes.
func splitRepoURL(repoURL string) (string, string) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	trimmed = strings.TrimSuffix(trimmed, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", trimmed
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsEnqueueCmd, jobsListCmd, jobsStatusCmd, jobsCancelCmd)

	jobsEnqueueCmd.Flags().StringVarP(&jobsProject, "project", "p", "", "project name (required)")
	jobsEnqueueCmd.Flags().StringVarP(&jobsDataset, "dataset", "d", "", "dataset name (default repo name)")
	jobsEnqueueCmd.Flags().StringVar(&jobsBranch, "branch", "main", "branch to ingest")
	jobsEnqueueCmd.Flags().StringVar(&jobsSHA, "sha", "", "pin a specific commit")
	jobsEnqueueCmd.MarkFlagRequired("project")

	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum rows")
}
