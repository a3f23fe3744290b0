package traits

import (
	"context"
	"errors"
	"fmt"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// ErrStaleVersion is the sentinel matched by errors.Is for CAS failures.
// Stores return a *StaleVersionError wrapping it.
var ErrStaleVersion = errors.New("stale personality version")

// StaleVersionError reports a compare-and-swap miss: the stored version no
// longer matches what the caller read. The caller re-reads and retries.
type StaleVersionError struct {
	// Scope is the boundary whose update was rejected.
	Scope tenant.Scope

	// Expected is the version the caller presented.
	Expected int64

	// Actual is the version found in the store, -1 when unknown.
	Actual int64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("%v: scope %s expected version %d, have %d",
		ErrStaleVersion, e.Scope, e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrStaleVersion) match.
func (e *StaleVersionError) Unwrap() error {
	return ErrStaleVersion
}

// Store persists one State per scope with optimistic versioning.
//
// Implementations must serialize concurrent Puts for a scope through the
// version check alone; no caller-side locking is assumed.
type Store interface {
	// Get returns the state for a scope. A scope with no record yields
	// DefaultState (Version 0), never an error.
	Get(ctx context.Context, scope tenant.Scope) (*State, error)

	// Put writes a state if the stored version still equals expectedVersion.
	// The written state's Version must be expectedVersion+1. A version
	// mismatch returns a *StaleVersionError; the caller re-reads and
	// retries. expectedVersion 0 means "create", and fails as stale when a
	// record already exists.
	Put(ctx context.Context, state *State, expectedVersion int64) error

	// Close releases store resources.
	Close() error
}
