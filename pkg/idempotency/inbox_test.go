package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*InboxEntry
	now     func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{entries: make(map[string]*InboxEntry), now: now}
}

func (m *memoryStore) Get(_ context.Context, key string) (*InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memoryStore) Start(_ context.Context, key, handler string, payload json.RawMessage, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		if e.Status != StatusRecoverable {
			return ErrDuplicateMessage
		}
		e.Status = StatusStarted
		e.UpdatedAt = m.now()
		return nil
	}
	m.entries[key] = &InboxEntry{
		IdempotencyKey: key,
		HandlerName:    handler,
		Status:         StatusStarted,
		Payload:        payload,
		CreatedAt:      m.now(),
		UpdatedAt:      m.now(),
		ExpiresAt:      &expiresAt,
	}
	return nil
}

func (m *memoryStore) SetStatus(_ context.Context, key string, status Status, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	if result != nil {
		e.Result = result
	}
	e.UpdatedAt = m.now()
	return nil
}

func (m *memoryStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memoryStore) RecoverStale(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.Status == StatusStarted && e.UpdatedAt.Before(before) {
			e.Status = StatusRecoverable
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) Stats(context.Context) (*InboxStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &InboxStats{TotalEntries: int64(len(m.entries))}
	for _, e := range m.entries {
		switch e.Status {
		case StatusStarted:
			stats.Started++
		case StatusFinished:
			stats.Finished++
		case StatusRecoverable:
			stats.Recoverable++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestInbox() (*Inbox, *memoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newMemoryStore(clock.now)
	inbox := NewInbox(store, DefaultInboxConfig(), nil)
	inbox.now = clock.now
	return inbox, store, clock
}

func TestProcessRunsHandlerOnce(t *testing.T) {
	inbox, _, _ := newTestInbox()
	ctx := context.Background()

	calls := 0
	handler := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"ok":true}`), nil
	}

	first, err := inbox.Process(ctx, "k1", "projector", json.RawMessage(`{}`), handler)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := inbox.Process(ctx, "k1", "projector", json.RawMessage(`{}`), handler)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.JSONEq(t, `{"ok":true}`, string(second.Result))
	assert.Equal(t, 1, calls)
}

func TestProcessRetriesRecoverableFailure(t *testing.T) {
	inbox, store, _ := newTestInbox()
	ctx := context.Background()

	_, err := inbox.Process(ctx, "k2", "projector", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	})
	require.Error(t, err)

	entry, err := store.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, StatusRecoverable, entry.Status)

	res, err := inbox.Process(ctx, "k2", "projector", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
	assert.False(t, res.IsNew)
}

func TestProcessTerminalFailureIsNotRetried(t *testing.T) {
	inbox, _, _ := newTestInbox()
	ctx := context.Background()

	_, err := inbox.Process(ctx, "k3", "projector", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Terminal(errors.New("unknown event type"))
	})
	require.Error(t, err)

	_, err = inbox.Process(ctx, "k3", "projector", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("handler must not run again")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestProcessStartedEntry(t *testing.T) {
	inbox, store, clock := newTestInbox()
	ctx := context.Background()
	require.NoError(t, store.Start(ctx, "k4", "projector", nil, clock.t.Add(time.Hour)))

	_, err := inbox.Process(ctx, "k4", "projector", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)

	clock.t = clock.t.Add(inbox.config.RecoveryTimeout + time.Second)
	res, err := inbox.Process(ctx, "k4", "projector", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestRecoverStaleEntries(t *testing.T) {
	inbox, store, clock := newTestInbox()
	ctx := context.Background()
	require.NoError(t, store.Start(ctx, "k5", "projector", nil, clock.t.Add(time.Hour)))

	clock.t = clock.t.Add(time.Hour)
	n, err := inbox.RecoverStaleEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := inbox.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Recoverable)
}

func TestGenerateKey(t *testing.T) {
	a := GenerateKey("projector", "0xabc", "0")
	assert.Len(t, a, 64)
	assert.Equal(t, a, GenerateKey("projector", "0xabc", "0"))
	assert.NotEqual(t, a, GenerateKey("projector", "0xabc", "1"))
}

func TestTerminal(t *testing.T) {
	assert.Nil(t, Terminal(nil))
	base := errors.New("bad payload")
	err := Terminal(base)
	assert.True(t, isTerminalError(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, isTerminalError(base))
}
