package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/infrastructure/redpanda"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

// ErrAmountRange is returned when a uint64 amount does not fit a BIGINT column
var ErrAmountRange = errors.New("amount exceeds storable range")

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", ErrAmountRange, v)
	}
	return int64(v), nil
}

// EventMessage is the payload published for every committed contract event
type EventMessage struct {
	ReceiptIndex uint64       `json:"receipt_index"`
	TxHash       merkle.Hash  `json:"tx_hash"`
	Sender       string       `json:"sender"`
	Event        ledger.Event `json:"event"`
}

// EventStore is a ledger.ReceiptSink that records each receipt with its events
// and queues outbox entries in the same database transaction
type EventStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

var _ ledger.ReceiptSink = (*EventStore)(nil)

// NewEventStore creates an event store on pool
func NewEventStore(pool *pgxpool.Pool, logger *zap.Logger) *EventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("event-store"),
	}
}

// HandleReceipt persists r. Replaying a stored receipt is a no-op.
func (s *EventStore) HandleReceipt(ctx context.Context, r *ledger.Receipt) error {
	ctx, span := s.tracer.Start(ctx, "event_store_append",
		trace.WithAttributes(
			attribute.String("receipt_index", strconv.FormatUint(r.Index, 10)),
			attribute.Int("events", len(r.Events)),
		))
	defer span.End()

	idx, err := toInt64(r.Index)
	if err != nil {
		return fmt.Errorf("append receipt: %w", err)
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted, err := insertReceipt(ctx, tx, idx, r)
		if err != nil || !inserted {
			return err
		}

		for _, e := range r.Events {
			if _, err := tx.Exec(ctx, `
				INSERT INTO events (id, receipt_idx, log_index, contract, contract_label, event_type, data)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, e.ID, idx, e.Index, e.Contract.Hex(), e.Label, e.Type, e.Data); err != nil {
				return fmt.Errorf("insert event %s: %w", e.ID, err)
			}

			payload, err := json.Marshal(EventMessage{
				ReceiptIndex: r.Index,
				TxHash:       r.Hash,
				Sender:       r.From.Hex(),
				Event:        e,
			})
			if err != nil {
				return fmt.Errorf("encode event %s: %w", e.ID, err)
			}
			if err := WriteEntry(ctx, tx, &OutboxEntry{
				EventID:      &e.ID,
				ReceiptIndex: r.Index,
				Contract:     e.Contract.Hex(),
				EventType:    e.Type,
				Payload:      payload,
				KafkaTopic:   redpanda.TopicForContract(e.Label),
				// one key per contract keeps each contract's events in order
				KafkaKey: e.Contract.Hex(),
			}); err != nil {
				return err
			}
		}

		receipt, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode receipt %d: %w", r.Index, err)
		}
		return WriteEntry(ctx, tx, &OutboxEntry{
			ReceiptIndex: r.Index,
			Contract:     r.To.Hex(),
			EventType:    "Receipt",
			Payload:      receipt,
			KafkaTopic:   redpanda.TopicLedgerReceipts,
			KafkaKey:     "ledger",
		})
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("append receipt %d: %w", r.Index, err)
	}
	return nil
}

func insertReceipt(ctx context.Context, tx pgx.Tx, idx int64, r *ledger.Receipt) (bool, error) {
	value, err := toInt64(r.Value)
	if err != nil {
		return false, err
	}
	var receiptErr *string
	if r.Error != "" {
		receiptErr = &r.Error
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO receipts (idx, hash, sender, recipient, value, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idx) DO NOTHING
	`, idx, r.Hash.Hex(), r.From.Hex(), r.To.Hex(), value, string(r.Status), receiptErr, r.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StoredEvent is an event row read back from the store
type StoredEvent struct {
	ReceiptIndex uint64
	ledger.Event
}

// EventsByContract returns events emitted by contract from receipt index
// from onwards, oldest first
func (s *EventStore) EventsByContract(ctx context.Context, contract ledger.Address, from uint64, limit int) ([]StoredEvent, error) {
	// no receipt index is stored beyond the BIGINT range
	if from > math.MaxInt64 {
		return []StoredEvent{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT receipt_idx, id, log_index, contract_label, event_type, data
		FROM events
		WHERE contract = $1 AND receipt_idx >= $2
		ORDER BY receipt_idx, log_index
		LIMIT $3
	`, contract.Hex(), int64(from), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			ev  StoredEvent
			idx int64
		)
		if err := rows.Scan(&idx, &ev.ID, &ev.Index, &ev.Label, &ev.Type, &ev.Data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ReceiptIndex = uint64(idx)
		ev.Contract = contract
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Latest returns the highest stored receipt index; ok is false when the
// store is empty
func (s *EventStore) Latest(ctx context.Context) (uint64, bool, error) {
	var idx *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(idx) FROM receipts`).Scan(&idx); err != nil {
		return 0, false, fmt.Errorf("query latest receipt: %w", err)
	}
	if idx == nil {
		return 0, false, nil
	}
	return uint64(*idx), true, nil
}
