package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrtlabs/feedback-pipeline/internal/app"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Return stale processing claims to the pending queue, then exit",
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

			reclaimed, err := a.SweepOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep stale claims: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d stale comments\n", reclaimed)
			return nil
		},
	}
}
