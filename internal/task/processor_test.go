package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afredojala/agent-demo/internal/agent"
)

type fakeRunner struct {
	processed atomic.Int32
	latency   time.Duration

	mu       sync.Mutex
	outcomes []string
}

func (f *fakeRunner) Run(ctx context.Context, goal string) (*agent.Result, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)

	outcome := agent.OutcomeAnswered
	f.mu.Lock()
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.mu.Unlock()

	if outcome == agent.OutcomeTransportErr {
		return &agent.Result{Reply: "Error during task execution: connection reset", Iterations: 1, Outcome: outcome}, nil
	}
	return &agent.Result{Reply: "done: " + goal, ViewChange: "triage", Iterations: 2, ToolCalls: 1, Outcome: outcome}, nil
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	runner := &fakeRunner{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 1)
	processor := NewProcessor(runner, store, queue, queue, WithWorkerCount(8))

	done := make(chan error, 1)
	go func() { done <- processor.Start(ctx) }()

	const total = 100
	for i := range total {
		_, err := service.Submit(ctx, SubmitRequest{Goal: fmt.Sprintf("goal-%d", i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats, err := service.Stats(ctx)
		return err == nil && stats.Succeeded == total
	}, 5*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, total, runner.processed.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestProcessorStoresResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 1)
	processor := NewProcessor(&fakeRunner{}, store, queue, queue)

	task, err := service.Submit(ctx, SubmitRequest{ID: "job-1", Goal: "show triage", Metadata: map[string]any{"source": "test"}})
	require.NoError(t, err)
	require.NoError(t, processor.Handle(ctx, task.ID))

	got, err := service.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Result)
	assert.Equal(t, ExecutionResult{
		Reply:      "done: show triage",
		ViewChange: "triage",
		Iterations: 2,
		ToolCalls:  1,
		Outcome:    agent.OutcomeAnswered,
	}, *got.Result)

	// 已完成的任务再次投递时直接跳过。
	require.NoError(t, processor.Handle(ctx, task.ID))

	again, err := service.Submit(ctx, SubmitRequest{ID: "job-1", Goal: "other"})
	require.NoError(t, err)
	assert.Equal(t, "show triage", again.Goal)
}

func TestProcessorRetriesTransportErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	runner := &fakeRunner{outcomes: []string{agent.OutcomeTransportErr, agent.OutcomeAnswered}}
	service := NewService(store, queue, 2)
	processor := NewProcessor(runner, store, queue, queue)

	task, err := service.Submit(ctx, SubmitRequest{Goal: "list tickets"})
	require.NoError(t, err)
	require.Equal(t, task.ID, <-queue.ch)

	require.NoError(t, processor.Handle(ctx, task.ID))
	pending, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)
	assert.Equal(t, "COMPLETION_TRANSPORT_FAILURE", pending.ErrorCode)
	assert.Contains(t, pending.LastError, "connection reset")

	require.Equal(t, task.ID, <-queue.ch)
	require.NoError(t, processor.Handle(ctx, task.ID))
	done, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Equal(t, 2, done.Attempts)
}

func TestProcessorStopsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	runner := &fakeRunner{outcomes: []string{agent.OutcomeTransportErr}}
	service := NewService(store, queue, 1)
	processor := NewProcessor(runner, store, queue, queue)

	task, err := service.Submit(ctx, SubmitRequest{Goal: "list tickets"})
	require.NoError(t, err)
	<-queue.ch

	require.NoError(t, processor.Handle(ctx, task.ID))
	failed, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.True(t, failed.IsTerminal())
	assert.Empty(t, queue.ch)
}

func TestServiceSubmitValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := NewService(store, NewMemoryQueue(1), 1).Submit(ctx, SubmitRequest{Goal: "  "})
	require.Error(t, err)

	_, err = NewService(store, failingProducer{}, 1).Submit(ctx, SubmitRequest{ID: "x", Goal: "goal"})
	require.Error(t, err)
	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, string(CodeTaskPublish), got.ErrorCode)
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 1)
	processor := NewProcessor(&fakeRunner{latency: 20 * time.Millisecond}, store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	task, err := service.Submit(ctx, SubmitRequest{Goal: "g"})
	require.NoError(t, err)

	done, err := service.WaitUntilCompleted(ctx, task.ID, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
}
