package provider

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pario-ai/intentd/pkg/metrics"
	"github.com/pario-ai/intentd/pkg/models"
)

const tracerName = "github.com/pario-ai/intentd/pkg/provider"

// instrumented records a span and call metrics around every Complete.
type instrumented struct {
	next    Provider
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func newInstrumented(next Provider, m *metrics.Metrics, tracer trace.Tracer) *instrumented {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &instrumented{next: next, metrics: m, tracer: tracer}
}

func (p *instrumented) Name() string { return p.next.Name() }

func (p *instrumented) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	ctx, span := p.tracer.Start(ctx, "provider."+p.next.Name()+".complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", p.next.Name()),
			attribute.Int("messages", len(messages)),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := p.next.Complete(ctx, messages)
	p.metrics.ObserveProviderCall(p.next.Name(), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.ClassifyError(err))
		return "", err
	}
	span.SetAttributes(attribute.Int("response_chars", len(text)))
	return text, nil
}
