package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "telephis",
	Short: "Phishing detection pipeline for Indonesian academic chat groups",
	Long:  "Three-stage phishing detection: rule-based triage, a single-shot LLM classifier, and a multi-agent debate with weighted voting.",
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
