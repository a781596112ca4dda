package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrtlabs/feedback-pipeline/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, dispatcher pool, and staleness sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
}
