package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrtlabs/feedback-pipeline/internal/app"
)

func newProcessCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Claim and process one batch of pending comments, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			stats, err := a.ProcessOnce(cmd.Context(), batchSize)
			if err != nil {
				return fmt.Errorf("process batch: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "comments to claim (0 uses pipeline.batch_size)")
	return cmd
}
