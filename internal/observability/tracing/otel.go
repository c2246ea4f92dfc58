// Package tracing installs the OpenTelemetry tracer provider of an rxchain
// process from the tracing section of its config.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/drfirst/rxchain/internal/config"
)

// Process identifies the traced rxchain process
type Process struct {
	// Component is the subcommand running: node, relay or indexer
	Component string
	Version   string
	Env       string
}

func (p Process) serviceName() string { return "rxchain-" + p.Component }

// ShutdownFunc flushes pending spans and stops the exporter
type ShutdownFunc func(context.Context) error

// Setup installs W3C propagation and, when cfg.Enabled, an OTLP gRPC exporter
// sampling root spans at cfg.SampleRate. Spans joining a remote trace follow
// the caller's decision.
func Setup(ctx context.Context, cfg config.TracingConfig, proc Process) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter %s: %w", cfg.Endpoint, err)
	}

	res, err := newResource(ctx, proc)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Sampler samples root spans at rate; a rate of 1 or more keeps every trace
// and 0 or less drops every root
func Sampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func newResource(ctx context.Context, proc Process) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(proc.serviceName()),
			semconv.ServiceNamespace("rxchain"),
			semconv.ServiceVersion(proc.Version),
			semconv.DeploymentEnvironment(proc.Env),
			attribute.String("rxchain.component", proc.Component),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	return res, nil
}
