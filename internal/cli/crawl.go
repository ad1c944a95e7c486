package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctxstack/ctxd/internal/crawler"
	"github.com/ctxstack/ctxd/internal/engine"
)

var (
	crawlProject  string
	crawlDataset  string
	crawlType     string
	crawlMaxPages int
	crawlDepth    int
	crawlScope    string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <start-url>",
	Short: "Crawl a site into a project dataset",
	Long: `Crawl starts a session on the external crawler service and streams
the pages it produces through the chunk, embed and upsert pipeline into the
dataset's collection. Progress is also published on the telemetry bus while
the daemon is running.`,
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

		summary, err := eng.RunCrawl(cmd.Context(), crawler.CrawlRequest{
			StartURL:  args[0],
			Project:   crawlProject,
			Dataset:   crawlDataset,
			CrawlType: crawlType,
			MaxPages:  crawlMaxPages,
			Depth:     crawlDepth,
			Scope:     crawlScope,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Crawl %s finished %s in %.1fs: %d pages, %d chunks\n",
			summary.SessionID, summary.Status, summary.Duration.Seconds(),
			summary.PagesStored, summary.ChunksAdded)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	crawlCmd.Flags().StringVarP(&crawlProject, "project", "p", "", "project name (required)")
	crawlCmd.Flags().StringVarP(&crawlDataset, "dataset", "d", "docs", "dataset name")
	crawlCmd.Flags().StringVar(&crawlType, "type", "", "crawler strategy hint")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 100, "page budget")
	crawlCmd.Flags().IntVar(&crawlDepth, "depth", 3, "link depth limit")
	crawlCmd.Flags().StringVar(&crawlScope, "scope", "", "crawl scope (domain, subpath)")
	crawlCmd.MarkFlagRequired("project")
}
