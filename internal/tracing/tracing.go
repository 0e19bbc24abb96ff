// Package tracing wraps the OpenTelemetry API for goscan spans. Without an
// exporter installed (see otelexport) spans are no-ops.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope names.
const (
	ScopeGateway = "github.com/nextlevelbuilder/goscan/gateway"
	ScopeHTTP    = "github.com/nextlevelbuilder/goscan/http"
	ScopeDevice  = "github.com/nextlevelbuilder/goscan/scanpair"
)

// Start opens a span on the global tracer provider.
func Start(ctx context.Context, scope, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err (if any) on span and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Session tags a span with the scan session id.
func Session(id string) attribute.KeyValue {
	return attribute.String("goscan.scan_session_id", id)
}

// User tags a span with the user id.
func User(id string) attribute.KeyValue {
	return attribute.String("goscan.user_id", id)
}
