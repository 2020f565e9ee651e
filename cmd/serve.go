package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API until
// interrupted.
func newServeCmd(state *cliState) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := state.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid flags: %w", err)
				}
			}
			a, err := buildApp(cmd.Context(), cfg, state.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			serveErr := a.Serve(cmd.Context())

			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := a.Close(ctx); err != nil {
				state.logger.Warn("close application failed", zap.Error(err))
			}
			return serveErr
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
