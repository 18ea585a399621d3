package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/intentd/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the analysis tools over stdio (newline-delimited JSON-RPC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{configPath: configPath})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			srv := mcp.New(a.analyzer,
				mcp.WithMetrics(a.metrics),
				mcp.WithLogger(a.logger.Named("rpc")),
				mcp.WithVersion(version),
				mcp.WithMaxInFlight(a.cfg.Server.MaxInFlight),
			)
			err = srv.Run(ctx, os.Stdin, os.Stdout)
			srv.Wait()
			return err
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
