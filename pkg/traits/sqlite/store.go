// Package sqlite provides a SQLite-backed trait store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-property deployments. The optimistic-versioning contract is
// implemented with conditional writes: creation uses INSERT OR IGNORE and
// updates carry the expected version in the WHERE clause, so a lost race
// shows up as zero affected rows.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
)

// Store implements traits.Store on SQLite.
type Store struct {
	db        *sql.DB
	tableName string
}

// Config contains configuration for creating a SQLite trait store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use. Defaults to
	// "personality_states".
	TableName string
}

// New creates a new SQLite trait store and initializes its table.
func New(cfg *Config) (*Store, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewTraitStore: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewTraitStore: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewTraitStore: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "personality_states"
	}

	store := &Store{
		db:        db,
		tableName: tableName,
	}

	if err := store.initTables(context.Background()); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id TEXT NOT NULL,
			property_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			warmth REAL NOT NULL,
			attentiveness REAL NOT NULL,
			proactivity REAL NOT NULL,
			professionalism REAL NOT NULL,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			last_updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, property_id, agent_id)
		)
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Get returns the state for a scope, or the default state (Version 0) when
// no row exists. A missing scope is never an error.
func (s *Store) Get(ctx context.Context, scope tenant.Scope) (*traits.State, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT warmth, attentiveness, proactivity, professionalism,
		       interaction_count, last_updated_at, version
		FROM %s
		WHERE tenant_id = ? AND property_id = ? AND agent_id = ?
	`, s.tableName)

	state := &traits.State{Scope: scope}
	err := s.db.QueryRowContext(ctx, query, scope.TenantID, scope.PropertyID, scope.AgentID).Scan(
		&state.Traits.Warmth,
		&state.Traits.Attentiveness,
		&state.Traits.Proactivity,
		&state.Traits.Professionalism,
		&state.InteractionCount,
		&state.LastUpdatedAt,
		&state.Version,
	)
	if err == sql.ErrNoRows {
		return traits.DefaultState(scope), nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return state, nil
}

// Put applies a compare-and-swap write against the stored version.
func (s *Store) Put(ctx context.Context, state *traits.State, expectedVersion int64) error {
	if err := state.Scope.Validate(); err != nil {
		return err
	}

	updatedAt := state.LastUpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	newVersion := expectedVersion + 1

	var result sql.Result
	var err error

	if expectedVersion == 0 {
		// Create path. INSERT OR IGNORE keeps races visible as zero
		// affected rows instead of a driver error.
		query := fmt.Sprintf(`
			INSERT OR IGNORE INTO %s
			(tenant_id, property_id, agent_id, warmth, attentiveness, proactivity, professionalism,
			 interaction_count, last_updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.tableName)

		result, err = s.db.ExecContext(ctx, query,
			state.Scope.TenantID, state.Scope.PropertyID, state.Scope.AgentID,
			state.Traits.Warmth, state.Traits.Attentiveness,
			state.Traits.Proactivity, state.Traits.Professionalism,
			state.InteractionCount, updatedAt, newVersion,
		)
	} else {
		query := fmt.Sprintf(`
			UPDATE %s
			SET warmth = ?, attentiveness = ?, proactivity = ?, professionalism = ?,
			    interaction_count = ?, last_updated_at = ?, version = ?
			WHERE tenant_id = ? AND property_id = ? AND agent_id = ? AND version = ?
		`, s.tableName)

		result, err = s.db.ExecContext(ctx, query,
			state.Traits.Warmth, state.Traits.Attentiveness,
			state.Traits.Proactivity, state.Traits.Professionalism,
			state.InteractionCount, updatedAt, newVersion,
			state.Scope.TenantID, state.Scope.PropertyID, state.Scope.AgentID,
			expectedVersion,
		)
	}

	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	if rowsAffected == 0 {
		return &traits.StaleVersionError{
			Scope:    state.Scope,
			Expected: expectedVersion,
			Actual:   s.currentVersion(ctx, state.Scope),
		}
	}

	state.Version = newVersion
	state.LastUpdatedAt = updatedAt
	return nil
}

// currentVersion reads the stored version for stale-error diagnostics.
// Returns -1 when it cannot be determined.
func (s *Store) currentVersion(ctx context.Context, scope tenant.Scope) int64 {
	query := fmt.Sprintf(`
		SELECT version FROM %s
		WHERE tenant_id = ? AND property_id = ? AND agent_id = ?
	`, s.tableName)

	var version int64
	err := s.db.QueryRowContext(ctx, query,
		scope.TenantID, scope.PropertyID, scope.AgentID).Scan(&version)
	if err != nil {
		return -1
	}
	return version
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
