package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTopicForContract(t *testing.T) {
	cases := map[string]string{
		ContractPrescriptions: TopicPrescriptionEvents,
		ContractExchange:      TopicOrderEvents,
		ContractLaboratory:    TopicLaboratoryEvents,
		ContractDoctors:       TopicWhitelistEvents,
		ContractAuthorization: TopicWhitelistEvents,
		"":                    TopicLedgerReceipts,
	}
	for label, want := range cases {
		assert.Equal(t, want, TopicForContract(label), label)
	}
}

func TestDefaultTopicConfigs(t *testing.T) {
	configs := DefaultTopicConfigs()
	byName := make(map[string]TopicConfig, len(configs))
	for _, c := range configs {
		byName[c.Name] = c
	}

	require.Contains(t, byName, TopicLedgerReceipts)
	receipts := byName[TopicLedgerReceipts]
	assert.Equal(t, int32(1), receipts.Partitions)
	assert.Equal(t, "2592000000", *receipts.Configs["retention.ms"])

	// the receipts override must not leak into other topics
	assert.Equal(t, "604800000", *byName[TopicOrderEvents].Configs["retention.ms"])
	assert.Contains(t, byName, TopicDeadLetter)
}

func TestHeaderCarrierRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	rec := (&Record{Topic: TopicOrderEvents, Key: "1", Headers: map[string]string{"event_type": "OrderPrepared"}}).toKgo(ctx)
	carrier := HeaderCarrier{Record: rec}
	assert.Equal(t, "OrderPrepared", carrier.Get("event_type"))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))

	extracted := trace.SpanContextFromContext(extractTraceContext(context.Background(), rec))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	rec := &kgo.Record{}
	c := HeaderCarrier{Record: rec}
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")
	assert.Equal(t, "2", c.Get("a"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}
