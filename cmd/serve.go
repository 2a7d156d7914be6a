package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/article-harvester/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the admin API and scheduled harvesting runs",
		Long: `Starts the admin HTTP server (health, readiness, metrics and run endpoints)
and, when schedule.cron is set, triggers runs on that schedule. Overlapping
runs are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := stateFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger, app.Deps{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(a, rt.logger)
			return a.Serve(cmd.Context())
		},
	}
}
