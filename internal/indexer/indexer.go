// Package indexer projects relayed contract events into the read model.
// Each event is applied at most once, keyed by its event ID.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/infrastructure/postgres"
	"github.com/drfirst/rxchain/internal/infrastructure/redpanda"
	"github.com/drfirst/rxchain/pkg/idempotency"
)

// HandlerName identifies projections in the inbox
const HandlerName = "projector"

// Projector applies one decoded event
type Projector interface {
	Apply(ctx context.Context, msg *postgres.EventMessage) error
}

type Indexer struct {
	inbox     *idempotency.Inbox
	projector Projector
	consumed  prometheus.Counter
	logger    *zap.Logger
}

type Option func(*Indexer)

// WithConsumedCounter counts every message handed to the indexer
func WithConsumedCounter(c prometheus.Counter) Option {
	return func(ix *Indexer) { ix.consumed = c }
}

func New(inbox *idempotency.Inbox, projector Projector, logger *zap.Logger, opts ...Option) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &Indexer{inbox: inbox, projector: projector, logger: logger}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Handle is a redpanda.MessageHandler. Redeliveries of a finished event are
// acknowledged without touching the read model; undecodable payloads are
// recorded as failed so the consumer dead-letters them.
func (ix *Indexer) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	if ix.consumed != nil {
		ix.consumed.Inc()
	}

	var ev postgres.EventMessage
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("%w: %s/%d@%d: %v", postgres.ErrMalformedEvent, msg.Topic, msg.Partition, msg.Offset, err)
	}

	key := idempotency.GenerateKey(HandlerName, ev.Event.ID.String())
	res, err := ix.inbox.Process(ctx, key, HandlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		if err := ix.projector.Apply(ctx, &ev); err != nil {
			if errors.Is(err, postgres.ErrMalformedEvent) || errors.Is(err, postgres.ErrAmountRange) {
				return nil, idempotency.Terminal(err)
			}
			return nil, err
		}
		return nil, nil
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicateMessage):
		ix.logger.Debug("event already projected", zap.Stringer("event_id", ev.Event.ID))
		return nil
	case err != nil:
		return err
	}

	if !res.IsNew && !res.WasRecovered {
		ix.logger.Debug("event redelivered", zap.Stringer("event_id", ev.Event.ID))
		return nil
	}
	ix.logger.Debug("event indexed",
		zap.Stringer("event_id", ev.Event.ID),
		zap.String("type", ev.Event.Type),
		zap.Uint64("receipt", ev.ReceiptIndex),
		zap.Bool("recovered", res.WasRecovered))
	return nil
}
