package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/article-harvester/internal/app"
	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// errNothingSucceeded is returned after the report is printed when every
// attempted fetch failed. Partial success exits cleanly.
var errNothingSucceeded = errors.New("run finished without a single successful fetch")

const closeTimeout = 15 * time.Second

func newRunCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Performs a single harvesting run and prints its report",
		Long: `Runs every enabled source until it is exhausted, reaches its cycle limit or
the attempt cap is hit, then prints the run report to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (want json or yaml)", format)
			}
			rt, err := stateFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger, app.Deps{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(a, rt.logger)

			report, err := a.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), report, format); err != nil {
				return err
			}
			totals := report.Totals()
			if totals.Attempted > 0 && totals.Succeeded == 0 {
				return errNothingSucceeded
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "report format: json or yaml")
	return cmd
}

func writeReport(w io.Writer, report harvest.RunReport, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	}
}

func closeApp(a *app.App, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("failed to close application services", zap.Error(err))
	}
}
