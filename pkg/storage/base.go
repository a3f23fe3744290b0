// Package storage provides interfaces and types for tenant-scoped memory
// persistence backends.
//
// It defines the MemoryStore interface that all backends must satisfy, along
// with the record type and query options. Every operation carries a
// tenant.Scope and backends enforce it as a hard filter: a record whose scope
// differs from the caller's, even in one field, is invisible to reads and
// untouchable by writes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("memory record not found")

	// ErrMissingScope indicates an insert with an incomplete scope.
	ErrMissingScope = errors.New("memory record has no scope")

	// ErrScopeMismatch is the sentinel matched by errors.Is for cross-scope
	// access attempts. Backends return a *ScopeMismatchError wrapping it.
	ErrScopeMismatch = errors.New("memory record scope mismatch")

	// ErrUnavailable indicates the backend cannot be reached. Callers treat
	// it as a degradation signal, not a turn failure.
	ErrUnavailable = errors.New("memory store unavailable")
)

// ScopeMismatchError reports an attempted cross-tenant access. It is always
// fatal for the operation and must be logged as a security event by the
// caller; it never degrades to a silent no-op.
type ScopeMismatchError struct {
	// ID is the record whose scope did not match.
	ID int64

	// Want is the caller's scope.
	Want tenant.Scope

	// Got is the scope stored on the record.
	Got tenant.Scope
}

func (e *ScopeMismatchError) Error() string {
	return fmt.Sprintf("%v: record %d belongs to %s, caller is %s",
		ErrScopeMismatch, e.ID, e.Got, e.Want)
}

// Unwrap lets errors.Is(err, ErrScopeMismatch) match.
func (e *ScopeMismatchError) Unwrap() error {
	return ErrScopeMismatch
}

// Record is one embedded conversation fragment owned by a scope.
//
// Records are created once per stored turn and read-only afterward; they
// leave the store only through TTL expiry or explicit pruning/deletion.
type Record struct {
	// ID is the unique identifier of the record.
	ID int64

	// Scope is the isolation boundary that owns this record.
	Scope tenant.Scope

	// ConversationID groups records belonging to one conversation.
	ConversationID string

	// Role describes what the fragment captures ("turn", "user",
	// "assistant").
	Role string

	// Content is the text content of the fragment.
	Content string

	// Embedding is the vector used for similarity search.
	Embedding []float64

	// CreatedAt is when the record was stored.
	CreatedAt time.Time

	// ExpiresAt is the optional TTL deadline; nil means no expiry.
	ExpiresAt *time.Time

	// ImportanceScore in [0,1] feeds the pruning policy.
	ImportanceScore float64

	// Score is the similarity score attached by search operations.
	Score float64
}

// SearchOptions contains options for similarity search.
type SearchOptions struct {
	// Scope is the hard isolation filter. Required.
	Scope tenant.Scope

	// Limit caps the number of results. Zero means no cap.
	Limit int

	// MinScore discards results below this similarity.
	MinScore float64
}

// PrunePolicy controls which records Prune removes for a scope.
type PrunePolicy struct {
	// Now is the reference time for TTL expiry. Zero means time.Now().
	Now time.Time

	// MinImportance removes records whose importance score is strictly
	// below this value. Zero disables importance pruning.
	MinImportance float64
}

// ListOptions contains pagination for compliance listings.
type ListOptions struct {
	Limit  int
	Offset int
}

// MemoryStore defines the interface for memory persistence backends.
//
// All backends (SQLite, PostgreSQL, MySQL) must implement this interface.
type MemoryStore interface {
	// Insert stores a record. A record whose scope fails validation is
	// rejected with ErrMissingScope.
	Insert(ctx context.Context, record *Record) error

	// Search performs similarity search within one scope.
	//
	// The scope filter is applied before ranking; no record from another
	// scope can appear regardless of similarity. Results are sorted by
	// score descending and carry their score on Record.Score.
	Search(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Record, error)

	// Delete removes one record after verifying the stored scope equals
	// the caller's scope. Returns ErrNotFound for an unknown ID and a
	// *ScopeMismatchError when the scopes differ.
	Delete(ctx context.Context, id int64, scope tenant.Scope) error

	// List returns a scope's records newest-first with pagination.
	List(ctx context.Context, scope tenant.Scope, opts *ListOptions) ([]*Record, error)

	// Prune removes expired and low-importance records for one scope only,
	// returning the number removed.
	Prune(ctx context.Context, scope tenant.Scope, policy PrunePolicy) (int, error)

	// Close closes the store and releases resources.
	Close() error
}
