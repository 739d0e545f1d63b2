package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/bonus-orchestrator/internal/domain/event"
)

func newTestEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "AAAAAA00A00A000A-BV-ACTIVATION", "BonusActivationWorkflow", nil)
}

func TestDispatch_RunsHandlersInOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.SubscribeNamed(event.TypeWorkflowStarted, "first", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "first")
		return nil
	})
	d.SubscribeNamed(event.TypeWorkflowStarted, "second", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowStarted)))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatch_StopsAtFirstError(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("boom")
	called := false

	d.SubscribeNamed(event.TypeWorkflowFailed, "failing", func(ctx context.Context, evt *event.Event) error {
		return boom
	})
	d.Subscribe(event.TypeWorkflowFailed, func(ctx context.Context, evt *event.Event) error {
		called = true
		return nil
	})

	err := d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowFailed))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")
	assert.False(t, called)
}

func TestDispatch_OnlyMatchingType(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Subscribe(event.TypeWorkflowCompleted, func(ctx context.Context, evt *event.Event) error {
		called = true
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowStarted)))
	assert.False(t, called)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(event.TypeWorkflowStarted, func(ctx context.Context, evt *event.Event) error {
		panic("kaboom")
	})

	err := d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowStarted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestDispatchAsync_CloseWaitsForHandlers(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int32

	for i := 0; i < 3; i++ {
		d.Subscribe(event.TypeActivityRetried, func(ctx context.Context, evt *event.Event) error {
			count.Add(1)
			return nil
		})
	}

	d.DispatchAsync(context.Background(), newTestEvent(event.TypeActivityRetried))
	require.NoError(t, d.Close())
	assert.Equal(t, int32(3), count.Load())
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Close())
	assert.Error(t, d.Close(), "second close should fail")
	assert.Error(t, d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowStarted)))

	// async dispatch after close is dropped silently
	d.DispatchAsync(context.Background(), newTestEvent(event.TypeWorkflowStarted))
}

func TestListHandlers(t *testing.T) {
	d := NewDispatcher()
	d.SubscribeNamed(event.TypeWorkflowFailed, "ops-alert", func(ctx context.Context, evt *event.Event) error { return nil })
	d.Subscribe(event.TypeWorkflowFailed, func(ctx context.Context, evt *event.Event) error { return nil })
	d.Subscribe(event.TypeWorkflowStarted, func(ctx context.Context, evt *event.Event) error { return nil })

	handlers := d.ListHandlers(event.TypeWorkflowFailed)
	require.Len(t, handlers, 2)
	assert.Equal(t, "ops-alert", handlers[0].Name)
	assert.Equal(t, "handler-1", handlers[1].Name)
	assert.Nil(t, handlers[0].Handler)
	assert.Equal(t, event.TypeWorkflowFailed, handlers[0].EventType)
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Subscribe(event.TypeWorkflowStarted, func(ctx context.Context, evt *event.Event) error { return nil })
		}()
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowStarted))
		}()
	}
	wg.Wait()

	assert.Len(t, d.ListHandlers(event.TypeWorkflowStarted), 20)
}
