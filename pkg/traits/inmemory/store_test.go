package inmemory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits/inmemory"
)

func testScope() tenant.Scope {
	return tenant.Scope{TenantID: "t1", PropertyID: "p1", AgentID: "a1"}
}

func TestGetReturnsDefaultForMissingScope(t *testing.T) {
	store := inmemory.New()
	defer func() { _ = store.Close() }()

	state, err := store.Get(context.Background(), testScope())
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, int64(0), state.Version)
	assert.Equal(t, int64(0), state.InteractionCount)
	assert.Equal(t, traits.DefaultTraitValue, state.Traits.Warmth)
	assert.Equal(t, traits.DefaultTraitValue, state.Traits.Professionalism)
}

func TestPutCreateAndUpdate(t *testing.T) {
	store := inmemory.New()
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	scope := testScope()

	state := traits.DefaultState(scope)
	state.Traits.Warmth = 0.6
	state.InteractionCount = 1
	state.LastUpdatedAt = time.Now()

	require.NoError(t, store.Put(ctx, state, 0))
	assert.Equal(t, int64(1), state.Version)

	// Update against the current version succeeds.
	state.Traits.Warmth = 0.7
	state.InteractionCount = 2
	require.NoError(t, store.Put(ctx, state, 1))
	assert.Equal(t, int64(2), state.Version)

	got, err := store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 0.7, got.Traits.Warmth)
	assert.Equal(t, int64(2), got.InteractionCount)
}

func TestPutStaleVersion(t *testing.T) {
	store := inmemory.New()
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	scope := testScope()

	state := traits.DefaultState(scope)
	require.NoError(t, store.Put(ctx, state, 0))

	// Writing with the version we already consumed is stale.
	err := store.Put(ctx, state.Clone(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, traits.ErrStaleVersion)

	var stale *traits.StaleVersionError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, int64(0), stale.Expected)
	assert.Equal(t, int64(1), stale.Actual)
}

func TestPutRejectsInvalidScope(t *testing.T) {
	store := inmemory.New()
	defer func() { _ = store.Close() }()

	state := traits.DefaultState(tenant.Scope{TenantID: "t1"})
	err := store.Put(context.Background(), state, 0)
	assert.ErrorIs(t, err, tenant.ErrInvalidScope)
}

// TestConcurrentReadRetryWrite simulates contention on one scope: each writer
// runs a read-retry-write cycle, so every attempted update must land exactly
// once and the final interaction count equals the number of writers.
func TestConcurrentReadRetryWrite(t *testing.T) {
	store := inmemory.New()
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	scope := testScope()

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for {
				state, err := store.Get(ctx, scope)
				if err != nil {
					t.Error(err)
					return
				}
				state.InteractionCount++
				state.LastUpdatedAt = time.Now()
				err = store.Put(ctx, state, state.Version)
				if err == nil {
					return
				}
				if !errors.Is(err, traits.ErrStaleVersion) {
					t.Error(err)
					return
				}
			}
		}()
	}

	wg.Wait()

	final, err := store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), final.InteractionCount)
	assert.Equal(t, int64(writers), final.Version)
}
