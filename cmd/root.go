package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sheetctx",
	Short: "Workbook context assembly for LLM prompts",
	Long:  "Turns spreadsheet workbooks into bounded, deterministic, privacy-filtered model context under per-mode token budgets.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
