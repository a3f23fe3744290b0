// Package mysql provides the MySQL implementation of the memory store.
//
// Plain MySQL has no vector type, so embeddings are stored as JSON strings
// and similarity is computed in memory over the scope's candidate set.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// Client implements storage.MemoryStore on MySQL.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains MySQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
}

// NewClient creates a new MySQL client.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
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
			id BIGINT PRIMARY KEY,
			tenant_id VARCHAR(128) NOT NULL,
			property_id VARCHAR(128) NOT NULL,
			agent_id VARCHAR(128) NOT NULL,
			conversation_id VARCHAR(128),
			role VARCHAR(32),
			content LONGTEXT NOT NULL,
			embedding LONGTEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME,
			importance_score DOUBLE DEFAULT 0.5,
			INDEX idx_scope (tenant_id, property_id, agent_id)
		)
	`, c.collectionName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
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
		limit = 100
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

func (c *Client) scanRecord(rows *sql.Rows) (*storage.Record, error) {
	var record storage.Record
	var embeddingStr string
	var expiresAt sql.NullTime

	err := rows.Scan(
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
