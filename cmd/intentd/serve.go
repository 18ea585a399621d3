package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/intentd/pkg/mcp"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON-RPC server over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{configPath: configPath})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			return serve(ctx, a)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// serve runs the HTTP server and the cache sweeper until ctx is cancelled,
// then drains in-flight requests and detached analyses.
func serve(ctx context.Context, a *app) error {
	srv := mcp.New(a.analyzer,
		mcp.WithCache(a.cache),
		mcp.WithMetrics(a.metrics),
		mcp.WithLogger(a.logger.Named("rpc")),
		mcp.WithVersion(version),
		mcp.WithMaxInFlight(a.cfg.Server.MaxInFlight),
	)

	httpSrv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           srv.Handler(a.registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting intentd",
			zap.String("listen", a.cfg.Listen),
			zap.String("version", version),
			zap.Bool("cache", a.cfg.Cache.Enabled),
			zap.Bool("audit", a.cfg.Audit.Enabled),
		)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.cache.RunSweeper(gctx, a.cfg.Cache.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", zap.Duration("timeout", a.cfg.Server.ShutdownTimeout))

		shutdownCtx := context.WithoutCancel(ctx)
		if a.cfg.Server.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, a.cfg.Server.ShutdownTimeout)
			defer cancel()
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	srv.Wait()
	a.logger.Info("stopped")
	return err
}
