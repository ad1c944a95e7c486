package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ctxstack/ctxd/internal/engine"
	"github.com/ctxstack/ctxd/internal/query"
)

var (
	queryProject    string
	queryDatasets   []string
	queryTopK       int
	querySourceType string
	queryRepo       string
	queryPathPrefix string
	queryLang       string
	queryJSON       bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search a project's datasets semantically",
	Long: `Query embeds the given text and searches the project's accessible
datasets. Dataset selectors accept exact names, globs (api-*), the wildcard
*, and semantic aliases (env:dev, src:code, ver:latest, branch:main).

Examples:
  ctxd query -p myproject "where is the retry backoff computed"
  ctxd query -p myproject -d 'env:prod' -d 'docs' --lang go "job dispatch"
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		resp, err := eng.Query(cmd.Context(), query.Request{
			Project:  queryProject,
			Datasets: queryDatasets,
			Query:    args[0],
			TopK:     queryTopK,
			Filter: query.Filters{
				SourceType: querySourceType,
				Repo:       queryRepo,
				PathPrefix: queryPathPrefix,
				Lang:       queryLang,
			},
		})
		if err != nil {
			return err
		}

		if queryJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		printQueryResponse(resp)
		return nil
	},
}

func printQueryResponse(resp *query.Response) {
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		if len(resp.Metadata.InvalidPatterns) > 0 {
			fmt.Printf("Invalid dataset patterns: %v\n", resp.Metadata.InvalidPatterns)
		}
		return
	}
	for i, r := range resp.Results {
		fmt.Printf("%2d. %s:%d-%d  [%s]  score=%.4f\n",
			i+1, r.Source.RelativePath, r.Source.StartLine, r.Source.EndLine,
			r.Dataset, r.Scores.Final)
		if r.Source.Repo != "" {
			fmt.Printf("    repo=%s branch=%s\n", r.Source.Repo, r.Source.Branch)
		}
	}
	fmt.Printf("\n%d result(s) from %d collection(s), method=%s, %dms total\n",
		len(resp.Results), resp.Metadata.QueriesExecuted,
		resp.Metadata.RetrievalMethod, resp.Metadata.Timing.TotalMs)
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryProject, "project", "p", "", "project name (required)")
	queryCmd.Flags().StringArrayVarP(&queryDatasets, "dataset", "d", nil,
		"dataset pattern (repeatable; default all accessible)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "result count (default from config)")
	queryCmd.Flags().StringVar(&querySourceType, "source-type", "", "filter by source type")
	queryCmd.Flags().StringVar(&queryRepo, "repo", "", "filter by repository")
	queryCmd.Flags().StringVar(&queryPathPrefix, "path-prefix", "", "filter by path prefix")
	queryCmd.Flags().StringVar(&queryLang, "lang", "", "filter by language")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "emit the full response as JSON")
	queryCmd.MarkFlagRequired("project")
}
