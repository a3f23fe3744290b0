// Package postgres provides the PostgreSQL + pgvector implementation of the
// memory store. Similarity ranking runs in the database with pgvector's
// cosine-distance operator.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// Client implements storage.MemoryStore on PostgreSQL with pgvector.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
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
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			property_id VARCHAR(255) NOT NULL,
			agent_id VARCHAR(255) NOT NULL,
			conversation_id VARCHAR(255),
			role VARCHAR(32),
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP,
			importance_score FLOAT DEFAULT 0.5
		)
	`, c.collectionName, c.dimensions)

	_, err = c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(tenant_id, property_id, agent_id)
	`, c.collectionName, c.collectionName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}

	return nil
}

// Insert inserts a record.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	if err := record.Scope.Validate(); err != nil {
		return fmt.Errorf("Insert: %w: %v", storage.ErrMissingScope, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, tenant_id, property_id, agent_id, conversation_id, role, content,
		 embedding, created_at, expires_at, importance_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.collectionName)

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var expiresAt interface{}
	if record.ExpiresAt != nil {
		expiresAt = *record.ExpiresAt
	}

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.Scope.TenantID,
		record.Scope.PropertyID,
		record.Scope.AgentID,
		record.ConversationID,
		record.Role,
		record.Content,
		vectorToString(record.Embedding),
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

// Search performs vector search using pgvector's cosine distance.
//
// The scope predicate sits in the WHERE clause ahead of ranking, so records
// from other scopes never enter the candidate set.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if err := opts.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT
			id, tenant_id, property_id, agent_id, conversation_id, role,
			content, embedding, created_at, expires_at, importance_score,
			1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE tenant_id = $2 AND property_id = $3 AND agent_id = $4
		  AND 1 - (embedding <=> $1) >= $5
		ORDER BY embedding <=> $1, created_at DESC
		LIMIT $6
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query,
		vectorToString(embedding),
		opts.Scope.TenantID, opts.Scope.PropertyID, opts.Scope.AgentID,
		opts.MinScore, limit)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return c.scanRecords(rows, true)
}

// Delete removes one record after verifying its stored scope.
func (c *Client) Delete(ctx context.Context, id int64, scope tenant.Scope) error {
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT tenant_id, property_id, agent_id FROM %s WHERE id = $1
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
		WHERE id = $1 AND tenant_id = $2 AND property_id = $3 AND agent_id = $4
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
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, property_id, agent_id, conversation_id, role,
		       content, embedding, created_at, expires_at, importance_score
		FROM %s
		WHERE tenant_id = $1 AND property_id = $2 AND agent_id = $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query,
		scope.TenantID, scope.PropertyID, scope.AgentID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return c.scanRecords(rows, false)
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

	condition := "(expires_at IS NOT NULL AND expires_at <= $4)"
	args := []interface{}{scope.TenantID, scope.PropertyID, scope.AgentID, now}
	if policy.MinImportance > 0 {
		condition += " OR importance_score < $5"
		args = append(args, policy.MinImportance)
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE tenant_id = $1 AND property_id = $2 AND agent_id = $3 AND (%s)
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

// scanRecords scans rows into records. withScore controls whether a trailing
// similarity column is expected.
func (c *Client) scanRecords(rows *sql.Rows, withScore bool) ([]*storage.Record, error) {
	var records []*storage.Record

	for rows.Next() {
		var record storage.Record
		var embeddingStr string
		var expiresAt sql.NullTime

		dest := []interface{}{
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
		}
		if withScore {
			dest = append(dest, &record.Score)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		embedding, err := parseVector(embeddingStr)
		if err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		record.Embedding = embedding

		if expiresAt.Valid {
			record.ExpiresAt = &expiresAt.Time
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}
