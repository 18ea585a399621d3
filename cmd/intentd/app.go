package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/pario-ai/intentd/pkg/analysis"
	"github.com/pario-ai/intentd/pkg/audit"
	"github.com/pario-ai/intentd/pkg/cache"
	"github.com/pario-ai/intentd/pkg/config"
	"github.com/pario-ai/intentd/pkg/metrics"
	"github.com/pario-ai/intentd/pkg/observe"
	"github.com/pario-ai/intentd/pkg/provider"
)

// app holds the components shared by serve, mcp and analyze.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cache    *cache.Cache
	audit    *audit.Logger
	analyzer *analysis.Orchestrator

	shutdownTracing observe.ShutdownFunc
}

type appOptions struct {
	configPath string
	// noCache skips the result cache entirely.
	noCache bool
}

// newApp loads configuration and assembles logging, tracing, metrics, the
// result cache, the analysis log, the model provider and the orchestrator.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := observe.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdownTracing, err := observe.SetupTracing(ctx, cfg.Tracing, version, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a := &app{
		cfg:             cfg,
		logger:          logger,
		registry:        prometheus.NewRegistry(),
		shutdownTracing: shutdownTracing,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)
	tracer := otel.Tracer("github.com/pario-ai/intentd")

	var store analysis.Store
	if !opts.noCache {
		a.cache = cache.New(cache.Options{
			Enabled: cfg.Cache.Enabled,
			TTL:     cfg.Cache.TTL,
			MaxSize: cfg.Cache.MaxSize,
			Logger:  logger.Named("cache"),
		})
		a.registry.MustRegister(metrics.NewCacheCollector(a.cache))
		if a.cache.Enabled() {
			store = a.cache
		}
	}

	orchOpts := []analysis.Option{
		analysis.WithLogger(logger.Named("analysis")),
		analysis.WithMetrics(a.metrics),
		analysis.WithTracer(tracer),
	}
	if cfg.Audit.Enabled {
		a.audit, err = audit.New(cfg.Audit, logger.Named("audit"))
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("init analysis log: %w", err)
		}
		orchOpts = append(orchOpts, analysis.WithRecorder(a.audit))
	}

	p, err := provider.Select(ctx, cfg.Providers,
		provider.WithLogger(logger.Named("provider")),
		provider.WithMetrics(a.metrics),
		provider.WithTracer(tracer),
	)
	if err != nil && !provider.IsUnavailable(err) {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("select provider: %w", err)
	}

	a.analyzer = analysis.New(p, store, orchOpts...)
	return a, nil
}

// Close flushes and releases everything newApp opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close analysis log: %w", err))
		}
	}
	if err := a.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", "", "path to config file (defaults plus environment overrides when empty)")
}
