// Package tracing starts the OpenTelemetry spans of the audit pipeline.
// Spans go to the global tracer provider; with none installed they are no-ops.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "brandaudit/internal/audit"

// Tracer provides the pipeline's span constructors.
type Tracer struct {
	tracer trace.Tracer
}

func New() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// AuditSpan covers one full audit run.
// Caller is responsible for calling span.End().
func (t *Tracer) AuditSpan(ctx context.Context, auditID, brand string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "audit.run",
		trace.WithAttributes(
			attribute.String("audit.id", auditID),
			attribute.String("audit.brand", brand),
		),
	)
}

// BatchSpan covers one batch of publications.
func (t *Tracer) BatchSpan(ctx context.Context, auditID string, batch, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "audit.batch",
		trace.WithAttributes(
			attribute.String("audit.id", auditID),
			attribute.Int("audit.batch", batch),
			attribute.Int("audit.batch_size", size),
		),
	)
}

func (t *Tracer) SearchSpan(ctx context.Context, domain string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "search.domain",
		trace.WithAttributes(attribute.String("publication.domain", domain)),
	)
}

func (t *Tracer) ClassifySpan(ctx context.Context, domain string, candidates int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "classifier.classify",
		trace.WithAttributes(
			attribute.String("publication.domain", domain),
			attribute.Int("classifier.candidates", candidates),
		),
	)
}

func (t *Tracer) StrategySpan(ctx context.Context, auditID string, mentions int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "strategy.generate",
		trace.WithAttributes(
			attribute.String("audit.id", auditID),
			attribute.Int("audit.mentions", mentions),
		),
	)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
