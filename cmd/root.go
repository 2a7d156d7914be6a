// Package cmd defines the harvester CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/logging"
)

// stateKey stores the loaded configuration and logger in the command context.
type stateKey struct{}

type cliState struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests articles from configured news sources.",
		Long: `harvester discovers article URLs from configured sources, fetches and
extracts them on a bounded worker pool and persists the results. Each source
is protected by a circuit breaker and an adaptive batch size.`,
		SilenceUsage: true,

		// Runs before every subcommand so they share one config and logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), stateKey{}, &cliState{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := stateFrom(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVEST_* environment variables override it")

	cmd.AddCommand(newRunCmd(), newServeCmd(), newSourcesCmd())
	return cmd
}

func stateFrom(ctx context.Context) (*cliState, error) {
	if ctx == nil {
		return nil, errors.New("command context not initialized")
	}
	rt, ok := ctx.Value(stateKey{}).(*cliState)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so runs stop cleanly and still print their report.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}
