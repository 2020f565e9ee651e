// Package cmd defines and implements the CLI commands for the docucrawl executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/app"
	"github.com/JakeFAU/docucrawl/internal/config"
	"github.com/JakeFAU/docucrawl/internal/logging"
)

// buildApp is the application factory. It's a variable so tests can wrap it.
var buildApp = app.Build

// cliState is filled by the root command before any subcommand runs.
type cliState struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	state := &cliState{}
	cmd := &cobra.Command{
		Use:   "docucrawl",
		Short: "Crawl documentation pages into one LLM-ready markdown report.",
		Long: `docucrawl fetches a list of URLs concurrently, falling back from direct HTTP
to a headless browser when a page needs JavaScript, converts each page to
filtered markdown, and assembles the results into a single report.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and logging are ready before any subcommand's RunE.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			state.cfg = cfg
			state.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (YAML, TOML, or JSON)")
	cmd.AddCommand(newCrawlCmd(state), newServeCmd(state))
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", colorError("error:"), err)
		return 1
	}
	return 0
}
