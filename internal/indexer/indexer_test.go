package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxchain/internal/infrastructure/postgres"
	"github.com/drfirst/rxchain/internal/infrastructure/redpanda"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/idempotency"
)

type entryStore struct {
	mu      sync.Mutex
	entries map[string]*idempotency.InboxEntry
}

func newEntryStore() *entryStore {
	return &entryStore{entries: make(map[string]*idempotency.InboxEntry)}
}

func (s *entryStore) Get(_ context.Context, key string) (*idempotency.InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, idempotency.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *entryStore) Start(_ context.Context, key, handler string, payload json.RawMessage, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		if e.Status != idempotency.StatusRecoverable {
			return idempotency.ErrDuplicateMessage
		}
		e.Status = idempotency.StatusStarted
		e.UpdatedAt = time.Now()
		return nil
	}
	s.entries[key] = &idempotency.InboxEntry{
		IdempotencyKey: key,
		HandlerName:    handler,
		Status:         idempotency.StatusStarted,
		Payload:        payload,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		ExpiresAt:      &expiresAt,
	}
	return nil
}

func (s *entryStore) SetStatus(_ context.Context, key string, status idempotency.Status, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return idempotency.ErrNotFound
	}
	e.Status = status
	e.Result = result
	e.UpdatedAt = time.Now()
	return nil
}

func (s *entryStore) status(key string) idempotency.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].Status
}

func (s *entryStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }
func (s *entryStore) RecoverStale(context.Context, time.Time) (int64, error)  { return 0, nil }
func (s *entryStore) Stats(context.Context) (*idempotency.InboxStats, error) {
	return &idempotency.InboxStats{}, nil
}

type scriptedProjector struct {
	errs    []error
	applied []*postgres.EventMessage
}

func (p *scriptedProjector) Apply(_ context.Context, msg *postgres.EventMessage) error {
	p.applied = append(p.applied, msg)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

func eventMessage(t *testing.T) (*redpanda.ConsumedMessage, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	value, err := json.Marshal(postgres.EventMessage{
		ReceiptIndex: 7,
		Sender:       "0x00000000000000000000000000000000000000b1",
		Event: ledger.Event{
			ID:    id,
			Label: redpanda.ContractExchange,
			Type:  "OrderReady",
			Data:  json.RawMessage(`{"order_id":1}`),
		},
	})
	require.NoError(t, err)
	return &redpanda.ConsumedMessage{Topic: redpanda.TopicOrderEvents, Value: value}, id
}

func newIndexer(p Projector) (*Indexer, *entryStore, prometheus.Counter) {
	store := newEntryStore()
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "consumed_total"})
	inbox := idempotency.NewInbox(store, idempotency.DefaultInboxConfig(), nil)
	return New(inbox, p, nil, WithConsumedCounter(consumed)), store, consumed
}

func TestHandleProjectsEachEventOnce(t *testing.T) {
	p := &scriptedProjector{}
	ix, store, consumed := newIndexer(p)
	msg, id := eventMessage(t)

	require.NoError(t, ix.Handle(context.Background(), msg))
	require.NoError(t, ix.Handle(context.Background(), msg))

	require.Len(t, p.applied, 1)
	assert.Equal(t, id, p.applied[0].Event.ID)
	assert.Equal(t, uint64(7), p.applied[0].ReceiptIndex)
	assert.Equal(t, idempotency.StatusFinished, store.status(idempotency.GenerateKey(HandlerName, id.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(consumed))
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	p := &scriptedProjector{errs: []error{errors.New("connection reset")}}
	ix, store, _ := newIndexer(p)
	msg, id := eventMessage(t)
	key := idempotency.GenerateKey(HandlerName, id.String())

	require.Error(t, ix.Handle(context.Background(), msg))
	assert.Equal(t, idempotency.StatusRecoverable, store.status(key))

	require.NoError(t, ix.Handle(context.Background(), msg))
	assert.Len(t, p.applied, 2)
	assert.Equal(t, idempotency.StatusFinished, store.status(key))
}

func TestHandleMalformedEventFailsPermanently(t *testing.T) {
	p := &scriptedProjector{errs: []error{fmt.Errorf("%w: OrderReady", postgres.ErrMalformedEvent)}}
	ix, store, _ := newIndexer(p)
	msg, id := eventMessage(t)

	err := ix.Handle(context.Background(), msg)
	require.ErrorIs(t, err, postgres.ErrMalformedEvent)
	assert.Equal(t, idempotency.StatusFailed, store.status(idempotency.GenerateKey(HandlerName, id.String())))

	// redelivery goes to the dead letter topic instead of re-running
	err = ix.Handle(context.Background(), msg)
	require.ErrorIs(t, err, idempotency.ErrPreviouslyFailed)
	assert.Len(t, p.applied, 1)
}

func TestHandleOutOfRangeValueFailsPermanently(t *testing.T) {
	p := &scriptedProjector{errs: []error{fmt.Errorf("project OrderPayed: %w", postgres.ErrAmountRange)}}
	ix, store, _ := newIndexer(p)
	msg, id := eventMessage(t)

	require.ErrorIs(t, ix.Handle(context.Background(), msg), postgres.ErrAmountRange)
	assert.Equal(t, idempotency.StatusFailed, store.status(idempotency.GenerateKey(HandlerName, id.String())))
}

func TestHandleUndecodablePayload(t *testing.T) {
	p := &scriptedProjector{}
	ix, _, consumed := newIndexer(p)

	err := ix.Handle(context.Background(), &redpanda.ConsumedMessage{Topic: redpanda.TopicOrderEvents, Value: []byte("{")})
	require.ErrorIs(t, err, postgres.ErrMalformedEvent)
	assert.Empty(t, p.applied)
	assert.Equal(t, 1.0, testutil.ToFloat64(consumed))
}
