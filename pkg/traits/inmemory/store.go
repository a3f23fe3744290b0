// Package inmemory provides a process-local trait store.
//
// It backs tests and single-node development. The scope-keyed map plus
// version check gives the same optimistic-concurrency contract as the SQL
// stores without external dependencies.
package inmemory

import (
	"context"
	"sync"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
)

// Store implements traits.Store with a mutex-guarded map keyed by scope.
type Store struct {
	mu     sync.RWMutex
	states map[string]*traits.State
}

// New creates an empty in-memory trait store.
func New() *Store {
	return &Store{
		states: make(map[string]*traits.State),
	}
}

// Get returns the stored state for the scope, or the lazily-created default
// when no record exists.
func (s *Store) Get(ctx context.Context, scope tenant.Scope) (*traits.State, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[scope.Key()]
	if !ok {
		return traits.DefaultState(scope), nil
	}
	return st.Clone(), nil
}

// Put applies a compare-and-swap write.
func (s *Store) Put(ctx context.Context, state *traits.State, expectedVersion int64) error {
	if err := state.Scope.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := state.Scope.Key()
	current, exists := s.states[key]

	var currentVersion int64
	if exists {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		return &traits.StaleVersionError{
			Scope:    state.Scope,
			Expected: expectedVersion,
			Actual:   currentVersion,
		}
	}

	stored := state.Clone()
	stored.Version = expectedVersion + 1
	s.states[key] = stored
	state.Version = stored.Version
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
