// Package metrics provides Prometheus metrics for the ledger node, relay and indexer.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	TransactionsTotal     *prometheus.CounterVec
	EventsTotal           *prometheus.CounterVec
	LedgerHeight          prometheus.Gauge
	RequestDuration       *prometheus.HistogramVec
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	KafkaConsumerLag      *prometheus.GaugeVec
	OutboxPending         prometheus.Gauge
	OutboxFailed          prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

var _ ledger.ReceiptSink = (*Metrics)(nil)

// New creates all metrics and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Executed transactions by target contract and status",
		}, []string{"contract", "status"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_total",
			Help: "Committed contract events by contract and type",
		}, []string{"contract", "type"}),
		LedgerHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_height",
			Help: "Index of the latest receipt plus one",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "route", "status"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		KafkaConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Indexer consumer group lag summed over partitions",
		}, []string{"topic"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_failed_entries",
			Help: "Outbox entries that exhausted their retries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.TransactionsTotal,
		m.EventsTotal,
		m.LedgerHeight,
		m.RequestDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.KafkaConsumerLag,
		m.OutboxPending,
		m.OutboxFailed,
		m.CircuitBreakerState,
	)
	return m
}

// HandleReceipt counts the transaction and its events
func (m *Metrics) HandleReceipt(_ context.Context, r *ledger.Receipt) error {
	contract := r.To.Hex()
	if len(r.Events) > 0 && r.Events[0].Label != "" {
		contract = r.Events[0].Label
	}
	m.TransactionsTotal.WithLabelValues(contract, string(r.Status)).Inc()
	for _, e := range r.Events {
		label := e.Label
		if label == "" {
			label = e.Contract.Hex()
		}
		m.EventsTotal.WithLabelValues(label, e.Type).Inc()
	}
	m.LedgerHeight.Set(float64(r.Index + 1))
	return nil
}

// SetConsumerLag records per-topic lag as returned by the topic admin
func (m *Metrics) SetConsumerLag(lag map[string]map[int32]int64) {
	for topic, partitions := range lag {
		var total int64
		for _, l := range partitions {
			total += l
		}
		m.KafkaConsumerLag.WithLabelValues(topic).Set(float64(total))
	}
}

// ObserveBreaker tracks the state of cb
func (m *Metrics) ObserveBreaker(cb *circuitbreaker.CircuitBreaker) {
	m.CircuitBreakerState.WithLabelValues(cb.Name()).Set(stateValue(cb.GetState()))
	cb.OnStateChange(func(name string, _, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
	})
}

func stateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	}
	return 0
}

// Handler returns the Prometheus HTTP handler for the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
