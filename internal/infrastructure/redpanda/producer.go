// Package redpanda streams committed ledger receipts and contract events over
// Kafka-compatible topics with franz-go.
package redpanda

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/pkg/circuitbreaker"
)

// ProducerConfig holds configuration for the Redpanda producer
type ProducerConfig struct {
	// Brokers is a list of broker addresses
	Brokers []string
	// BatchMaxBytes is the maximum batch size
	BatchMaxBytes int32
	// LingerMS is the time to wait before sending a batch
	LingerMS int64
	// MaxBufferedRecords is the maximum number of records to buffer
	MaxBufferedRecords int
	// Compression is the compression codec to use
	Compression string
	// RequiredAcks sets the required acks level (-1 for all, 1 for leader)
	RequiredAcks int16
	// MaxRetries is the maximum number of retries for failed sends
	MaxRetries int
	// RetryBackoffMS is the backoff time between retries
	RetryBackoffMS int64
}

// DefaultProducerConfig returns defaults for relaying outbox entries
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:            []string{"localhost:9092"},
		BatchMaxBytes:      1024 * 1024,
		LingerMS:           5,
		MaxBufferedRecords: 100_000,
		Compression:        "lz4",
		RequiredAcks:       -1,
		MaxRetries:         3,
		RetryBackoffMS:     100,
	}
}

// Producer publishes records to Redpanda
type Producer struct {
	client *kgo.Client
	config ProducerConfig
	logger *zap.Logger
	tracer trace.Tracer

	messagesSent  atomic.Int64
	bytesSent     atomic.Int64
	errorCount    atomic.Int64
	lastFlushTime atomic.Int64
}

// NewProducer creates a new Redpanda producer
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchMaxBytes(cfg.BatchMaxBytes),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return time.Duration(cfg.RetryBackoffMS) * time.Millisecond * time.Duration(attempt+1)
		}),
	}

	switch cfg.RequiredAcks {
	case -1:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case 0:
		// idempotent writes need all acks
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	}

	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	p := &Producer{
		client: client,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}
	p.lastFlushTime.Store(time.Now().UnixNano())
	return p, nil
}

// Publish sends one record and waits for its acknowledgment
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.PublishRecords(ctx, &Record{Topic: topic, Key: key, Value: value})
}

// PublishRecords sends records and waits until all are acknowledged. Records
// sharing a key land on the same partition in the order given.
func (p *Producer) PublishRecords(ctx context.Context, records ...*Record) error {
	ctx, span := p.tracer.Start(ctx, "produce_records",
		trace.WithAttributes(attribute.Int("batch_size", len(records))))
	defer span.End()

	kgoRecords := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		kgoRecords = append(kgoRecords, rec.toKgo(ctx))
	}

	results := p.client.ProduceSync(ctx, kgoRecords...)
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			p.errorCount.Add(1)
			p.logger.Error("failed to produce record",
				zap.String("topic", r.Record.Topic),
				zap.ByteString("key", r.Record.Key),
				zap.Error(r.Err))
			continue
		}
		p.messagesSent.Add(1)
		p.bytesSent.Add(int64(len(r.Record.Value)))
		p.logger.Debug("record produced",
			zap.String("topic", r.Record.Topic),
			zap.Int32("partition", r.Record.Partition),
			zap.Int64("offset", r.Record.Offset))
	}

	if err := results.FirstErr(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("produce failed for %d of %d records: %w", failed, len(records), err)
	}
	return nil
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}

	p.client.Close()
	return nil
}

// ProducerStats holds producer statistics
type ProducerStats struct {
	MessagesSent  int64
	BytesSent     int64
	ErrorCount    int64
	LastFlushTime time.Time
}

// Stats returns current producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:  p.messagesSent.Load(),
		BytesSent:     p.bytesSent.Load(),
		ErrorCount:    p.errorCount.Load(),
		LastFlushTime: time.Unix(0, p.lastFlushTime.Load()),
	}
}

// Record represents a message to be produced
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func (r *Record) toKgo(ctx context.Context) *kgo.Record {
	rec := &kgo.Record{
		Topic: r.Topic,
		Key:   []byte(r.Key),
		Value: r.Value,
	}
	for k, v := range r.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	injectTraceHeaders(ctx, rec)
	return rec
}

// Publisher is anything that can publish a keyed value to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// GuardedPublisher routes publishes through a circuit breaker so a down broker
// fails fast instead of stalling the relay
type GuardedPublisher struct {
	publisher Publisher
	breaker   *circuitbreaker.CircuitBreaker
}

// NewGuardedPublisher wraps publisher with breaker
func NewGuardedPublisher(publisher Publisher, breaker *circuitbreaker.CircuitBreaker) *GuardedPublisher {
	return &GuardedPublisher{publisher: publisher, breaker: breaker}
}

func (g *GuardedPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.publisher.Publish(ctx, topic, key, value)
	})
}
