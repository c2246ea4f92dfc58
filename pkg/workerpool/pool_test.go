package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.QueueSize = 16
	cfg.RetryDelay = time.Millisecond
	cfg.GracefulShutdownTimeout = time.Second
	return cfg
}

func TestRunBatchKeepsTaskOrder(t *testing.T) {
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		n := task.Payload.(int)
		return &Result{TaskID: task.ID, Success: true, Data: n * n}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	tasks := make([]*Task, 40)
	for i := range tasks {
		tasks[i] = &Task{ID: fmt.Sprint(i), Payload: i}
	}
	results, err := pool.RunBatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, results, 40)
	for i, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, i*i, r.Data)
	}
	assert.Equal(t, int64(40), pool.Stats().TasksCompleted)
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls int32
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &Result{TaskID: task.ID, Error: errors.New("transient")}
		}
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	results, err := pool.RunBatch(context.Background(), []*Task{{ID: "flaky"}})
	require.NoError(t, err)
	result := results[0]
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int64(2), pool.Stats().TasksRetried)
}

func TestRetriesExhausted(t *testing.T) {
	boom := errors.New("boom")
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Error: boom}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	results, err := pool.RunBatch(context.Background(), []*Task{{ID: "bad"}})
	require.NoError(t, err)
	result := results[0]
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, boom)
	assert.Equal(t, int64(1), pool.Stats().TasksFailed)
}

func TestRunBatchAfterStop(t *testing.T) {
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result { return nil }, nil)
	require.NoError(t, err)
	pool.Start()
	require.NoError(t, pool.Stop())

	_, err = pool.RunBatch(context.Background(), []*Task{{ID: "late"}})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, pool.Stop())
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
