package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/article-harvester/internal/app"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/registry"
	memorysink "github.com/JakeFAU/article-harvester/internal/sink/memory"
)

type sourcesOutput struct {
	Sources    []harvest.SourceConfig `json:"sources" yaml:"sources"`
	Components map[string][]string    `json:"components" yaml:"components"`
}

func newSourcesCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Validates the source configuration and lists the resolved sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := stateFrom(cmd.Context())
			if err != nil {
				return err
			}
			// Validation needs the registry only; keep sinks and publishers offline.
			cfg := rt.cfg
			cfg.PubSub.Enabled = false
			a, err := app.Build(cmd.Context(), cfg, rt.logger, app.Deps{Sink: memorysink.New()})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(a, rt.logger)

			sources := a.Sources()
			if err := a.Registry().Validate(sources); err != nil {
				return err
			}
			out := sourcesOutput{Sources: sources, Components: a.Registry().Names()}
			switch format {
			case "table":
				return writeSourcesTable(cmd.OutOrStdout(), out)
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			case "yaml":
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(out)
			default:
				return fmt.Errorf("unsupported format %q (want table, json or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json or yaml")
	return cmd
}

func writeSourcesTable(w io.Writer, out sourcesOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tCOLLECTOR\tEXTRACTOR\tFETCHER\tBATCH\tCONCURRENCY\tTHRESHOLD\tCOOLDOWN")
	for _, s := range out.Sources {
		fetcher := s.FetcherRef
		if fetcher == "" {
			fetcher = registry.DefaultFetcher
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.Name, s.Enabled, s.CollectorRef, s.ExtractorRef, fetcher,
			s.MaxArticlesPerCycle, s.ConcurrencyLimit, s.FailureThreshold, s.Cooldown)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, kind := range []string{"collectors", "extractors", "fetchers"} {
		fmt.Fprintf(w, "%s: %s\n", kind, strings.Join(out.Components[kind], ", "))
	}
	return nil
}
