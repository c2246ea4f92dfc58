package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/drfirst/rxchain/internal/config"
)

func TestSetupDisabledKeepsProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false}, Process{Component: "node"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Equal(t, before, otel.GetTracerProvider())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
}

func TestSampler(t *testing.T) {
	root := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	assert.Equal(t, sdktrace.RecordAndSample, Sampler(1).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, Sampler(0).ShouldSample(root).Decision)

	// a sampled remote parent wins over a zero rate
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	child := root
	child.ParentContext = trace.ContextWithRemoteSpanContext(context.Background(), parent)
	assert.Equal(t, sdktrace.RecordAndSample, Sampler(0).ShouldSample(child).Decision)
}

func TestResourceNamesComponent(t *testing.T) {
	res, err := newResource(context.Background(), Process{Component: "relay", Version: "1.2.3", Env: "test"})
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "rxchain-relay", attrs["service.name"])
	assert.Equal(t, "rxchain", attrs["service.namespace"])
	assert.Equal(t, "relay", attrs["rxchain.component"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}
