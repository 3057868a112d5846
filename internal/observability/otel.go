package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"course-credentials/internal/config"
)

// TracerName is the instrumentation scope for pipeline spans.
const TracerName = "course-credentials"

// stdoutWriter is where the stdout exporter writes; tests swap it.
var stdoutWriter io.Writer = os.Stdout

// SetupTracing configures OpenTelemetry tracing and returns a shutdown function.
// Spans go to stdout when TRACING_STDOUT is set, otherwise to the OTLP HTTP endpoint.
func SetupTracing(ctx context.Context, cfg config.Config, version string) (func(context.Context) error, error) {
	if !cfg.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch {
	case cfg.TracingStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(stdoutWriter))
	case strings.HasPrefix(cfg.OTLPEndpoint, "http://"), strings.HasPrefix(cfg.OTLPEndpoint, "https://"):
		exp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	default:
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
