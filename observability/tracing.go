package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span started here.
const TracerName = "github.com/medatechnology/sequel"

// StartQuerySpan starts a client span for one statement on the global tracer provider.
// Without a configured provider the span is a no-op.
func StartQuerySpan(ctx context.Context, dialect, database, queryType, statement string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "sequel."+queryType,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", dialect),
			attribute.String("db.name", database),
			attribute.String("db.operation", queryType),
			attribute.String("db.statement", statement),
		),
	)
}

// StartTransactionSpan starts a span covering a whole transaction.
func StartTransactionSpan(ctx context.Context, dialect, database, txID string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "sequel.transaction",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", dialect),
			attribute.String("db.name", database),
			attribute.String("db.transaction.id", txID),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
