// Package tracing builds the OpenTelemetry tracer provider the service reports
// spans through.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporters accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "finance-sync-be"

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

// ValidExporter reports whether name is an exporter Setup understands.
func ValidExporter(name string) bool {
	return name == ExporterNone || name == ExporterStdout
}

// Setup returns a provider for the named exporter. "none" records nothing;
// "stdout" writes finished spans as JSON to w.
func Setup(exporter string, w io.Writer) (trace.TracerProvider, Shutdown, error) {
	switch exporter {
	case "", ExporterNone:
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
		)
		return tp, tp.Shutdown, nil
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}
