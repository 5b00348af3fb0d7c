package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var poolStatusCmd = &cobra.Command{
	Use:   "pool-status",
	Short: "Show the health of the configured microblog credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool := credentialPool(cfg.XScraper)
		if pool == nil {
			return eris.New("no credentials: set [x_scraper] auth_credentials or provide the env file")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pool.Status())
	},
}

func init() {
	rootCmd.AddCommand(poolStatusCmd)
}
