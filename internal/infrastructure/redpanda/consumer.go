package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/pkg/workerpool"
)

// ConsumerConfig holds configuration for the Redpanda consumer
type ConsumerConfig struct {
	// Brokers is a list of broker addresses
	Brokers []string
	// GroupID is the consumer group ID
	GroupID string
	// Topics is the list of topics to consume
	Topics []string
	// SessionTimeoutMS is the session timeout
	SessionTimeoutMS int64
	// HeartbeatIntervalMS is the heartbeat interval
	HeartbeatIntervalMS int64
	// MaxPollRecords is the maximum records per poll
	MaxPollRecords int
	// FetchMaxBytes is the maximum fetch size
	FetchMaxBytes int32
	// StartOffset is the initial offset (earliest or latest)
	StartOffset string
	// DeadLetterTopic receives records whose handler keeps failing. Empty
	// means failed records are redelivered instead.
	DeadLetterTopic string
	// Pool sizes the partition workers
	Pool workerpool.Config
}

// DefaultConsumerConfig returns defaults for the event indexer
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:             []string{"localhost:9092"},
		GroupID:             "rxchain-indexer",
		Topics:              []string{TopicPrescriptionEvents, TopicOrderEvents, TopicLaboratoryEvents, TopicWhitelistEvents},
		SessionTimeoutMS:    30000,
		HeartbeatIntervalMS: 3000,
		MaxPollRecords:      500,
		FetchMaxBytes:       52428800,
		StartOffset:         "earliest",
		DeadLetterTopic:     TopicDeadLetter,
		Pool:                workerpool.DefaultConfig(),
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage represents a consumed Kafka message
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// partitionBatch is the slice of one poll belonging to a single partition.
// Records are handled in offset order; next and failures survive task retries.
type partitionBatch struct {
	topic     string
	partition int32
	records   []*kgo.Record
	next      int
	failures  int
}

// Consumer reads records with a consumer group and hands each partition's
// records to a worker pool, so partitions progress in parallel while order
// within a partition is kept
type Consumer struct {
	client     *kgo.Client
	config     ConsumerConfig
	logger     *zap.Logger
	tracer     trace.Tracer
	handler    MessageHandler
	deadLetter Publisher
	pool       *workerpool.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messagesRead   atomic.Int64
	bytesRead      atomic.Int64
	errorCount     atomic.Int64
	deadLettered   atomic.Int64
	lastCommitTime atomic.Int64
}

// NewConsumer creates a new Redpanda consumer. deadLetter may be nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, deadLetter Publisher, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS) * time.Millisecond),
		kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsAssigned(func(ctx context.Context, client *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, client *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := client.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	}

	switch cfg.StartOffset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		client:     client,
		config:     cfg,
		logger:     logger,
		tracer:     otel.Tracer("redpanda-consumer"),
		handler:    handler,
		deadLetter: deadLetter,
		ctx:        ctx,
		cancel:     cancel,
	}

	c.pool, err = workerpool.New(cfg.Pool, c.processPartition, logger.Named("partitions"))
	if err != nil {
		cancel()
		client.Close()
		return nil, err
	}
	return c, nil
}

// Start begins consuming messages
func (c *Consumer) Start() {
	c.pool.Start()
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	_ = c.pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.CommitOffsets(ctx); err != nil {
		c.logger.Warn("error committing offsets on stop", zap.Error(err))
	}

	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		fetches := c.client.PollRecords(c.ctx, c.config.MaxPollRecords)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			c.client.AllowRebalance()
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
			c.errorCount.Add(1)
		})

		var tasks []*workerpool.Task
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			tasks = append(tasks, &workerpool.Task{
				ID:      fmt.Sprintf("%s/%d@%d", p.Topic, p.Partition, p.Records[0].Offset),
				Payload: &partitionBatch{topic: p.Topic, partition: p.Partition, records: p.Records},
				Context: c.ctx,
			})
		})

		if len(tasks) > 0 {
			c.runBatch(tasks)
		}
		c.client.AllowRebalance()
	}
}

func (c *Consumer) runBatch(tasks []*workerpool.Task) {
	results, err := c.pool.RunBatch(c.ctx, tasks)
	if err != nil {
		// shutting down; uncommitted records are redelivered
		return
	}

	rewind := make(map[string]map[int32]kgo.EpochOffset)
	for i, res := range results {
		batch := tasks[i].Payload.(*partitionBatch)
		if res.Success {
			continue
		}
		failed := batch.records[batch.next]
		c.logger.Error("partition stalled",
			zap.String("topic", batch.topic),
			zap.Int32("partition", batch.partition),
			zap.Int64("offset", failed.Offset),
			zap.Error(res.Error))
		if rewind[batch.topic] == nil {
			rewind[batch.topic] = make(map[int32]kgo.EpochOffset)
		}
		rewind[batch.topic][batch.partition] = kgo.EpochOffset{Epoch: -1, Offset: failed.Offset}
	}
	if len(rewind) > 0 {
		c.client.SetOffsets(rewind)
	}

	if err := c.CommitOffsets(c.ctx); err != nil {
		c.logger.Error("failed to commit offsets", zap.Error(err))
	}
}

// processPartition handles one partition's records in order, resuming after
// the last success on retry. Records that still fail go to the dead letter
// topic when one is configured.
func (c *Consumer) processPartition(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	batch := task.Payload.(*partitionBatch)
	for batch.next < len(batch.records) {
		record := batch.records[batch.next]
		if err := c.processRecord(ctx, record); err != nil {
			c.errorCount.Add(1)
			batch.failures++
			if ctx.Err() != nil || !c.deadLetterEnabled() || batch.failures <= c.config.Pool.MaxRetries {
				return &workerpool.Result{TaskID: task.ID, Error: err}
			}
			if dlqErr := c.sendToDeadLetter(ctx, record, err); dlqErr != nil {
				return &workerpool.Result{TaskID: task.ID, Error: dlqErr}
			}
		}
		c.client.MarkCommitRecords(record)
		batch.next++
		batch.failures = 0
	}
	return &workerpool.Result{TaskID: task.ID, Success: true}
}

func (c *Consumer) deadLetterEnabled() bool {
	return c.deadLetter != nil && c.config.DeadLetterTopic != ""
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	ctx = extractTraceContext(ctx, record)
	ctx, span := c.tracer.Start(ctx, "process_message",
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Warn("message handler failed",
			zap.String("topic", record.Topic),
			zap.Int32("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		span.RecordError(err)
		return err
	}

	c.messagesRead.Add(1)
	c.bytesRead.Add(int64(len(record.Value)))
	return nil
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, record *kgo.Record, cause error) error {
	payload, err := json.Marshal(map[string]interface{}{
		"original_topic": record.Topic,
		"partition":      record.Partition,
		"offset":         record.Offset,
		"payload":        json.RawMessage(record.Value),
		"last_error":     cause.Error(),
		"failed_at":      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := c.deadLetter.Publish(ctx, c.config.DeadLetterTopic, string(record.Key), payload); err != nil {
		return fmt.Errorf("dead letter publish failed: %w", err)
	}
	c.deadLettered.Add(1)
	c.logger.Warn("record moved to dead letter",
		zap.String("topic", record.Topic),
		zap.Int64("offset", record.Offset),
		zap.Error(cause))
	return nil
}

// CommitOffsets commits offsets of handled records
func (c *Consumer) CommitOffsets(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "commit_offsets")
	defer span.End()

	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	c.lastCommitTime.Store(time.Now().UnixNano())
	return nil
}

// ConsumerStats holds consumer statistics
type ConsumerStats struct {
	MessagesRead   int64
	BytesRead      int64
	ErrorCount     int64
	DeadLettered   int64
	LastCommitTime time.Time
	// PoolHealthy is false while the partition workers fall behind
	PoolHealthy bool
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		MessagesRead:   c.messagesRead.Load(),
		BytesRead:      c.bytesRead.Load(),
		ErrorCount:     c.errorCount.Load(),
		DeadLettered:   c.deadLettered.Load(),
		LastCommitTime: time.Unix(0, c.lastCommitTime.Load()),
		PoolHealthy:    c.pool.IsHealthy(),
	}
}
