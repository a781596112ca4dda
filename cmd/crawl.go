package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrtlabs/feedback-pipeline/internal/app"
	"github.com/vrtlabs/feedback-pipeline/internal/crawl"
)

func newCrawlCmd() *cobra.Command {
	var (
		bindingLimit int
		maxPages     int
		force        bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl due vehicle-channel bindings for new comments, then exit",
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

			stats, err := a.CrawlOnce(cmd.Context(), crawl.Params{
				BindingLimit: bindingLimit,
				MaxPages:     maxPages,
				Force:        force,
			})
			if err != nil {
				return fmt.Errorf("crawl pass: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
			return nil
		},
	}
	cmd.Flags().IntVar(&bindingLimit, "binding-limit", 0, "bindings to visit (0 uses crawl.binding_limit)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "pages per binding (0 uses crawl.max_pages)")
	cmd.Flags().BoolVar(&force, "force", false, "crawl bindings even if crawled recently")
	return cmd
}
