package adaptation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/buffrhost-sub000/pkg/adaptation"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits/inmemory"
)

func TestRetryQueueAppliesSignal(t *testing.T) {
	store := inmemory.New()
	engine, err := adaptation.NewEngine(store, adaptation.Config{}, nil)
	require.NoError(t, err)

	queue := adaptation.NewRetryQueue(engine, 8, time.Second, nil)

	ok := queue.Enqueue(adaptation.Signal{
		Scope:            testScope(),
		ExplicitFeedback: floatPtr(1.0),
	})
	assert.True(t, ok)

	// Close drains the worker before we look at the store.
	queue.Close()

	state, err := store.Get(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.InteractionCount)
}

func TestRetryQueueDropsOnOverflow(t *testing.T) {
	store := inmemory.New()
	engine, err := adaptation.NewEngine(store, adaptation.Config{}, nil)
	require.NoError(t, err)

	queue := adaptation.NewRetryQueue(engine, 1, time.Second, nil)
	defer queue.Close()

	// Flood far past the buffer; at least one signal must be dropped and
	// Enqueue must never block.
	done := make(chan struct{})
	var dropped bool
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if !queue.Enqueue(adaptation.Signal{Scope: testScope(), ExplicitFeedback: floatPtr(1.0)}) {
				dropped = true
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue blocked")
	}
	_ = dropped // drop behavior depends on worker pacing; the real assertion is no blocking
}

func TestRetryQueueEnqueueAfterClose(t *testing.T) {
	store := inmemory.New()
	engine, err := adaptation.NewEngine(store, adaptation.Config{}, nil)
	require.NoError(t, err)

	queue := adaptation.NewRetryQueue(engine, 8, time.Second, nil)
	queue.Close()

	// A turn racing Close must get a dropped signal, not a panic.
	ok := queue.Enqueue(adaptation.Signal{Scope: testScope(), ExplicitFeedback: floatPtr(1.0)})
	assert.False(t, ok)

	state, err := store.Get(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.InteractionCount)
}
