package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pario-ai/intentd/pkg/config"
	"github.com/pario-ai/intentd/pkg/metrics"
)

// Builder probes one candidate and constructs its client.
// It returns an error when the candidate is unusable (missing credentials, bad region, ...).
type Builder func(ctx context.Context, cfg config.ProviderConfig) (Provider, error)

// DefaultBuilders returns the builder for every supported backend type.
func DefaultBuilders() map[string]Builder {
	return map[string]Builder{
		config.ProviderBedrock:   NewBedrock,
		config.ProviderOpenAI:    NewOpenAI,
		config.ProviderAnthropic: NewAnthropic,
		config.ProviderGemini:    NewGemini,
	}
}

type selectOptions struct {
	builders map[string]Builder
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures Select.
type Option func(*selectOptions)

// WithBuilders replaces the backend builders, keyed by provider type.
func WithBuilders(b map[string]Builder) Option {
	return func(o *selectOptions) { o.builders = b }
}

// WithLogger sets the logger used for selection and call logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *selectOptions) { o.logger = l }
}

// WithMetrics records provider calls on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *selectOptions) { o.metrics = m }
}

// WithTracer sets the tracer for provider call spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *selectOptions) { o.tracer = t }
}

// Select probes candidates in order and returns the first usable one, wrapped
// with retries and instrumentation. Later candidates are never consulted again.
//
// When no candidate is usable, Select returns an Unavailable provider together
// with an error wrapping ErrUnavailable, so callers can keep serving degraded results.
func Select(ctx context.Context, candidates []config.ProviderConfig, opts ...Option) (Provider, error) {
	o := selectOptions{builders: DefaultBuilders(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if len(candidates) == 0 {
		o.logger.Error("no model providers configured")
		return NewUnavailable("no providers configured"), fmt.Errorf("%w: no providers configured", ErrUnavailable)
	}

	var reasons []string
	for _, cand := range candidates {
		name := cand.DisplayName()
		build, ok := o.builders[cand.Type]
		if !ok {
			o.logger.Warn("skipping provider", zap.String("provider", name), zap.String("reason", "unsupported type "+cand.Type))
			reasons = append(reasons, name+": unsupported type")
			continue
		}

		p, err := build(ctx, cand)
		if err != nil {
			o.logger.Warn("skipping provider", zap.String("provider", name), zap.Error(err))
			reasons = append(reasons, name+": "+err.Error())
			continue
		}

		o.logger.Info("selected model provider",
			zap.String("provider", name),
			zap.String("type", cand.Type),
			zap.String("model", cand.Model),
		)
		wrapped := newRetrying(p, cand.MaxRetries, cand.Timeout, o.logger)
		return newInstrumented(wrapped, o.metrics, o.tracer), nil
	}

	reason := strings.Join(reasons, "; ")
	o.logger.Error("no usable model provider, analyses will return defaults", zap.String("reasons", reason))
	return NewUnavailable(reason), fmt.Errorf("%w: %s", ErrUnavailable, reason)
}

// IsUnavailable reports whether err means no backend was usable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
