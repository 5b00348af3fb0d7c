package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var xScrapeCmd = &cobra.Command{
	Use:   "x-scrape",
	Short: "Sweep all configured microblog accounts and dump raw posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(cfg.Sources.X) == 0 {
			return eris.New("no [x_accounts] configured")
		}

		scraper, err := newXScraper(cfg)
		if err != nil {
			return eris.Wrap(err, "init x scraper")
		}
		if scraper == nil {
			return eris.New("no credentials: set [x_scraper] auth_credentials or provide the env file")
		}

		results, err := scraper.SweepAll(ctx, cfg.Sources.X)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		outDir, err := scraper.DumpResults(cfg.Output.Dir, results)
		if err != nil {
			return eris.Wrap(err, "dump results")
		}

		total := 0
		for _, posts := range results {
			total += len(posts)
		}
		zap.L().Info("sweep saved",
			zap.String("dir", outDir),
			zap.Int("posts", total),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(xScrapeCmd)
}
