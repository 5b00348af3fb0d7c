package main

import (
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datascout/scout/internal/enrich"
	"github.com/datascout/scout/internal/fetch"
	"github.com/datascout/scout/internal/organize"
	"github.com/datascout/scout/internal/pipeline"
	"github.com/datascout/scout/internal/write"
	"github.com/datascout/scout/pkg/llm"
	"github.com/datascout/scout/pkg/reader"
)

var runOutputDir string

// batchDirs resolves the batch output locations. The tree root (By-Domain,
// By-Entity, latest_batch.json) is stable across batches so each run
// overwrites the manifest in place; only the raw snapshots are
// batch-scoped.
func batchDirs(configured, override, batchID string) (outDir, snapshotDir string) {
	outDir = override
	if outDir == "" {
		outDir = configured
	}
	return outDir, filepath.Join(outDir, "raw_"+batchID)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one crawl batch across all configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		batchID := time.Now().Format("20060102_150405")

		outDir, snapshotDir := batchDirs(cfg.Output.Dir, runOutputDir, batchID)

		feeds := feedSources(cfg)
		xs := xSources(cfg)

		scraper, err := newXScraper(cfg)
		if err != nil {
			return eris.Wrap(err, "init x scraper")
		}

		// With no direct-client credentials, microblog sources fall back
		// to the RSS bridge when one is configured.
		var xFetcher fetch.XFetcher
		if scraper != nil {
			xFetcher = scraper
		} else if cfg.RSSHub.BaseURL != "" && len(xs) > 0 {
			zap.L().Info("no microblog credentials, using RSS bridge",
				zap.String("base_url", cfg.RSSHub.BaseURL),
				zap.Int("sources", len(xs)),
			)
			feeds = append(feeds, fetch.RSSHubFeeds(cfg.RSSHub.BaseURL, xs)...)
			xs = nil
		}

		fetchStage := fetch.New(fetch.Config{
			Lookback:    time.Duration(cfg.Crawler.DaysLookback) * 24 * time.Hour,
			FeedWorkers: cfg.Crawler.FetchWorkers,
			XDelayMin:   time.Duration(cfg.Crawler.XRequestDelayMin) * time.Second,
			XDelayMax:   time.Duration(cfg.Crawler.XRequestDelayMax) * time.Second,
			SnapshotDir: snapshotDir,
		}, fetch.NewFeedClient(time.Duration(cfg.Crawler.FeedTimeoutSecs)*time.Second), xFetcher, feeds, xs)

		enrichStage := enrich.New(reader.NewClient(), nil)

		llmOpts := []llm.Option{}
		if cfg.LLM.BaseURL != "" {
			llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
		}
		organizeStage, err := organize.New(llm.NewClient(cfg.LLM.APIKey, llmOpts...), organize.Config{
			Model:              cfg.LLM.Model,
			PromptTemplatePath: cfg.LLM.PromptTemplate,
			MaxInFlight:        int64(cfg.LLM.MaxConcurrency),
		})
		if err != nil {
			return eris.Wrap(err, "init organize stage")
		}

		writer := write.New(outDir, batchID, write.NewEntityResolver(cfg.EntityMapping), nil)

		p := pipeline.New(pipeline.Config{
			QueueSize:       cfg.Crawler.QueueSize,
			EnrichWorkers:   cfg.Crawler.EnrichWorkers,
			OrganizeWorkers: cfg.Crawler.OrganizeWorkers,
		}, fetchStage, enrichStage, organizeStage, writer)

		zap.L().Info("batch starting",
			zap.String("batch_id", batchID),
			zap.String("output", outDir),
			zap.Int("feeds", len(feeds)),
			zap.Int("x_sources", len(xs)),
		)

		if err := p.Run(ctx); err != nil {
			return eris.Wrap(err, "batch run")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOutputDir, "output", "", "output directory (default from config)")
	rootCmd.AddCommand(runCmd)
}
