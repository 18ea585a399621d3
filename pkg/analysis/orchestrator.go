// Package analysis runs the analysis tools: cache lookup, model call, strict
// JSON parsing with a single retry, and a default result when all else fails.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pario-ai/intentd/pkg/cache"
	"github.com/pario-ai/intentd/pkg/metrics"
	"github.com/pario-ai/intentd/pkg/models"
	"github.com/pario-ai/intentd/pkg/provider"
)

// ErrParse means a model response was not a single JSON object.
var ErrParse = errors.New("model response is not a JSON object")

// Store is the result cache as seen by the orchestrator.
type Store interface {
	Get(toolName, query string) (models.AnalysisResult, bool)
	Set(toolName, query string, value models.AnalysisResult)
}

// Recorder receives one record per finished analysis.
type Recorder interface {
	Log(ctx context.Context, rec models.AnalysisRecord) error
}

// Orchestrator runs tools against a provider and a result store.
type Orchestrator struct {
	provider provider.Provider
	store    Store
	tools    []*Tool
	byName   map[string]*Tool
	logger   *zap.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	tracer   trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records analysis outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRecorder sends every finished analysis to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer sets the tracer for analysis spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithTools replaces the built-in tool set.
func WithTools(tools []*Tool) Option {
	return func(o *Orchestrator) { o.tools = tools }
}

// New creates an Orchestrator. A nil store disables caching.
func New(p provider.Provider, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: p,
		store:    store,
		tools:    DefaultTools(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/pario-ai/intentd/pkg/analysis")
	}
	o.byName = make(map[string]*Tool, len(o.tools))
	for _, t := range o.tools {
		o.byName[t.Name] = t
	}
	return o
}

// Tools returns the tool descriptors in advertised order.
func (o *Orchestrator) Tools() []*Tool {
	return o.tools
}

// Lookup returns the tool registered under name.
func (o *Orchestrator) Lookup(name string) (*Tool, bool) {
	t, ok := o.byName[name]
	return t, ok
}

// attempt tracks one analysis for logging and the analysis log.
type attempt struct {
	outcome  models.Outcome
	calls    int
	err      error
	duration time.Duration
}

// Analyze runs req.ToolName on req.Query. It always returns a result: the
// cached value, a freshly parsed model response, or the tool's default.
// An unknown tool yields an empty result.
func (o *Orchestrator) Analyze(ctx context.Context, req models.ToolRequest) models.AnalysisResult {
	tool, ok := o.Lookup(req.ToolName)
	if !ok {
		o.logger.Error("analyze called with unknown tool", zap.String("tool", req.ToolName))
		return models.AnalysisResult{}
	}

	ctx, span := o.tracer.Start(ctx, "analysis."+tool.Name,
		trace.WithAttributes(attribute.String("tool", tool.Name)))
	defer span.End()

	start := time.Now()
	result, a := o.run(ctx, tool, req.Query)
	a.duration = time.Since(start)

	span.SetAttributes(
		attribute.String("outcome", string(a.outcome)),
		attribute.Int("attempts", a.calls),
	)
	if a.err != nil {
		span.RecordError(a.err)
	}
	o.finish(ctx, tool, req, a)
	return result
}

func (o *Orchestrator) run(ctx context.Context, tool *Tool, query string) (models.AnalysisResult, attempt) {
	if o.store != nil {
		if v, ok := o.store.Get(tool.Name, query); ok {
			return v, attempt{outcome: models.OutcomeHit}
		}
	}

	o.logger.Debug("cache miss, calling model", zap.String("tool", tool.Name), zap.String("query", query))

	msgs, err := tool.messages(query)
	if err != nil {
		return tool.Default(err.Error()), attempt{outcome: models.OutcomeDegraded, err: err}
	}

	a := attempt{outcome: models.OutcomeComputed}
	result, err := o.complete(ctx, msgs, &a)
	if errors.Is(err, ErrParse) {
		o.logger.Warn("unparseable model response, retrying",
			zap.String("tool", tool.Name),
			zap.Stringer("strategy", tool.Retry),
			zap.Error(err),
		)
		retryMsgs, rerr := tool.retryMessages(query, msgs)
		if rerr != nil {
			err = rerr
		} else {
			a.outcome = models.OutcomeRetried
			result, err = o.complete(ctx, retryMsgs, &a)
		}
	}
	if err != nil {
		a.outcome = models.OutcomeDegraded
		a.err = err
		return tool.Default(err.Error()), a
	}

	if o.store != nil {
		o.store.Set(tool.Name, query, result)
	}
	return result, a
}

func (o *Orchestrator) complete(ctx context.Context, msgs []models.ChatMessage, a *attempt) (models.AnalysisResult, error) {
	a.calls++
	text, err := o.provider.Complete(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return ParseResult(text)
}

func (o *Orchestrator) finish(ctx context.Context, tool *Tool, req models.ToolRequest, a attempt) {
	fields := []zap.Field{
		zap.String("tool", tool.Name),
		zap.String("key", cache.Key(tool.Name, req.Query)),
		zap.String("outcome", string(a.outcome)),
		zap.Int("attempts", a.calls),
		zap.Duration("duration", a.duration),
	}
	switch a.outcome {
	case models.OutcomeDegraded:
		o.logger.Error("analysis failed, returning default result", append(fields, zap.Error(a.err))...)
	case models.OutcomeHit:
		o.logger.Debug("analysis served from cache", fields...)
	default:
		o.logger.Info("analysis completed", fields...)
	}

	o.metrics.ObserveAnalysis(tool.Name, a.outcome, a.duration)

	if o.recorder == nil {
		return
	}
	rec := models.AnalysisRecord{
		Tool:      tool.Name,
		CacheKey:  cache.Key(tool.Name, req.Query),
		Query:     req.Query,
		Outcome:   a.outcome,
		Attempts:  a.calls,
		Provider:  o.provider.Name(),
		Latency:   a.duration,
		CreatedAt: time.Now().UTC(),
	}
	if a.err != nil {
		rec.Error = a.err.Error()
	}
	if err := o.recorder.Log(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("analysis log write failed", zap.Error(err))
	}
}

// ParseResult strictly decodes a model response. The text must be exactly one
// JSON object, optionally surrounded by whitespace.
func ParseResult(text string) (models.AnalysisResult, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %s", ErrParse, preview(text))
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return result, nil
}

func preview(s string) string {
	const limit = 80
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return string(r)
}
