// Package cmd defines the CLI commands for the feedback-pipeline binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vrtlabs/feedback-pipeline/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback-pipeline",
		Short: "Batch pipeline turning crawled vehicle reviews into feature-tagged sentiment records",
		Long: `feedback-pipeline ingests user comments crawled from vehicle review
channels, splits them into chunks, tags each chunk with the closest product
feature by embedding similarity, and records sentiment per chunk.

Configuration is read from the file passed via --config plus FEEDBACK_*
environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (optional; env vars always apply)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
