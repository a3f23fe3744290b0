// Package sqlite provides the SQLite implementation of the memory store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-property deployments. Vectors are stored as JSON strings in TEXT
// fields, and similarity search uses in-memory cosine similarity calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// Client implements storage.MemoryStore using SQLite as the backend.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains configuration for creating a SQLite memory store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int
}

// NewClient creates a new SQLite memory store client.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{
		db:             db,
		collectionName: cfg.CollectionName,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			property_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			conversation_id TEXT,
			role TEXT,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME,
			importance_score REAL DEFAULT 0.5
		)
	`, c.collectionName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(tenant_id, property_id, agent_id)
	`, c.collectionName, c.collectionName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts a record into the SQLite database.
//
// Vectors are stored as JSON strings in TEXT fields.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	if err := record.Scope.Validate(); err != nil {
		return fmt.Errorf("Insert: %w: %v", storage.ErrMissingScope, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, tenant_id, property_id, agent_id, conversation_id, role, content,
		 embedding, created_at, expires_at, importance_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var expiresAt interface{}
	if record.ExpiresAt != nil {
		expiresAt = *record.ExpiresAt
	}

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Scope.TenantID,
		record.Scope.PropertyID,
		record.Scope.AgentID,
		record.ConversationID,
		record.Role,
		record.Content,
		string(embeddingJSON),
		createdAt,
		expiresAt,
		record.ImportanceScore,
	)

	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	record.CreatedAt = createdAt
	return nil
}

// Search performs similarity search within one scope.
//
// SQLite has no native vector operations, so candidates are filtered to the
// caller's scope in SQL and similarity is computed in memory.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if err := opts.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, property_id, agent_id, conversation_id, role,
		       content, embedding, created_at, expires_at, importance_score
		FROM %s
		WHERE tenant_id = ? AND property_id = ? AND agent_id = ?
		ORDER BY id
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query,
		opts.Scope.TenantID, opts.Scope.PropertyID, opts.Scope.AgentID)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := c.scanRecord(rows)
		if err != nil {
			return nil, err
		}

		score := cosineSimilarity(embedding, record.Embedding)
		record.Score = score

		if score >= opts.MinScore {
			records = append(records, record)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sortByScore(records, opts.Limit), nil
}

// Delete removes one record after verifying its stored scope.
//
// The scope check runs before any mutation: an unknown ID yields ErrNotFound
// and a scope mismatch yields a *ScopeMismatchError, never a silent no-op.
func (c *Client) Delete(ctx context.Context, id int64, scope tenant.Scope) error {
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT tenant_id, property_id, agent_id FROM %s WHERE id = ?
	`, c.collectionName)

	var stored tenant.Scope
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&stored.TenantID, &stored.PropertyID, &stored.AgentID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("Delete: %w", storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	if !stored.Equal(scope) {
		return &storage.ScopeMismatchError{ID: id, Want: scope, Got: stored}
	}

	deleteQuery := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id = ? AND tenant_id = ? AND property_id = ? AND agent_id = ?
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, deleteQuery,
		id, scope.TenantID, scope.PropertyID, scope.AgentID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	return nil
}

// List returns a scope's records newest-first with pagination.
func (c *Client) List(ctx context.Context, scope tenant.Scope, opts *storage.ListOptions) ([]*storage.Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unlimited
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, property_id, agent_id, conversation_id, role,
		       content, embedding, created_at, expires_at, importance_score
		FROM %s
		WHERE tenant_id = ? AND property_id = ? AND agent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query,
		scope.TenantID, scope.PropertyID, scope.AgentID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := c.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Prune removes expired and low-importance records for one scope only.
func (c *Client) Prune(ctx context.Context, scope tenant.Scope, policy storage.PrunePolicy) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, fmt.Errorf("Prune: %w", err)
	}

	now := policy.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	condition := "(expires_at IS NOT NULL AND expires_at <= ?)"
	args := []interface{}{scope.TenantID, scope.PropertyID, scope.AgentID, now}
	if policy.MinImportance > 0 {
		condition += " OR importance_score < ?"
		args = append(args, policy.MinImportance)
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE tenant_id = ? AND property_id = ? AND agent_id = ? AND (%s)
	`, c.collectionName, condition)

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("Prune: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Prune: %w", err)
	}

	return int(removed), nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanRecord scans a record from a database row or rows.
func (c *Client) scanRecord(scanner interface{}) (*storage.Record, error) {
	var record storage.Record
	var embeddingStr string
	var expiresAt sql.NullTime

	var err error
	switch s := scanner.(type) {
	case *sql.Row:
		err = s.Scan(
			&record.ID,
			&record.Scope.TenantID,
			&record.Scope.PropertyID,
			&record.Scope.AgentID,
			&record.ConversationID,
			&record.Role,
			&record.Content,
			&embeddingStr,
			&record.CreatedAt,
			&expiresAt,
			&record.ImportanceScore,
		)
	case *sql.Rows:
		err = s.Scan(
			&record.ID,
			&record.Scope.TenantID,
			&record.Scope.PropertyID,
			&record.Scope.AgentID,
			&record.ConversationID,
			&record.Role,
			&record.Content,
			&embeddingStr,
			&record.CreatedAt,
			&expiresAt,
			&record.ImportanceScore,
		)
	default:
		return nil, fmt.Errorf("unsupported scanner type")
	}

	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}

	if expiresAt.Valid {
		record.ExpiresAt = &expiresAt.Time
	}

	return &record, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore sorts records by score descending, breaking ties by recency
// (newer wins), and applies the limit.
func sortByScore(records []*storage.Record, limit int) []*storage.Record {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		return records[:limit]
	}

	return records
}
