// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent directory and block ledger persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			owner_phone TEXT NOT NULL DEFAULT '',
			active      INTEGER NOT NULL DEFAULT 1,
			created_at  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_active ON agents(active);

		CREATE TABLE IF NOT EXISTS blocked_numbers (
			agent_id      TEXT NOT NULL,
			counterparty  TEXT NOT NULL,
			blocked_until DATETIME NOT NULL,
			blocked_by    TEXT NOT NULL,
			created_at    DATETIME NOT NULL,

			PRIMARY KEY (agent_id, counterparty),
			CHECK (blocked_by IN ('owner_takeover', 'manual', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_blocked_until ON blocked_numbers(blocked_until);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// UpsertAgent inserts or updates an agent directory record.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, owner_phone, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_phone = excluded.owner_phone,
			active = excluded.active`,
		agent.ID, agent.Name, agent.OwnerPhone, agent.Active, agent.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_phone, active, created_at
		FROM agents WHERE id = ?`, id)

	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.OwnerPhone, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent: %w", err)
	}
	return &a, nil
}

// GetOwnerPhone returns the configured owner phone for an agent.
func (s *SQLiteStore) GetOwnerPhone(ctx context.Context, id string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT owner_phone FROM agents WHERE id = ?`, id)

	var phone string
	err := row.Scan(&phone)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting owner phone: %w", err)
	}
	return phone, nil
}

// ListActiveAgents returns agents eligible for session restoration.
func (s *SQLiteStore) ListActiveAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_phone, active, created_at
		FROM agents WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing active agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.OwnerPhone, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// ReplaceBlock removes any existing entry for the pair and inserts the new one.
// Delete-then-insert rather than upsert so replacement stays idempotent even
// if the schema gains columns without conflict targets.
func (s *SQLiteStore) ReplaceBlock(ctx context.Context, entry *BlockEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM blocked_numbers WHERE agent_id = ? AND counterparty = ?`,
		entry.AgentID, entry.Counterparty); err != nil {
		return fmt.Errorf("deleting prior block: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO blocked_numbers (agent_id, counterparty, blocked_until, blocked_by, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.AgentID, entry.Counterparty, entry.BlockedUntil.UTC(), entry.BlockedBy, entry.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}

	return tx.Commit()
}

// DeleteBlock removes the entry for the pair, reporting whether one existed.
func (s *SQLiteStore) DeleteBlock(ctx context.Context, agentID, counterparty string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blocked_numbers WHERE agent_id = ? AND counterparty = ?`,
		agentID, counterparty)
	if err != nil {
		return false, fmt.Errorf("deleting block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// GetBlock returns the live entry for the pair, or ErrNotFound.
func (s *SQLiteStore) GetBlock(ctx context.Context, agentID, counterparty string, now time.Time) (*BlockEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, counterparty, blocked_until, blocked_by, created_at
		FROM blocked_numbers
		WHERE agent_id = ? AND counterparty = ? AND blocked_until > ?`,
		agentID, counterparty, now.UTC())

	var e BlockEntry
	err := row.Scan(&e.AgentID, &e.Counterparty, &e.BlockedUntil, &e.BlockedBy, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting block: %w", err)
	}
	return &e, nil
}

// ListBlocks returns live entries for an agent, newest first.
func (s *SQLiteStore) ListBlocks(ctx context.Context, agentID string, now time.Time) ([]*BlockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, counterparty, blocked_until, blocked_by, created_at
		FROM blocked_numbers
		WHERE agent_id = ? AND blocked_until > ?
		ORDER BY created_at DESC`,
		agentID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing blocks: %w", err)
	}
	defer rows.Close()

	var entries []*BlockEntry
	for rows.Next() {
		var e BlockEntry
		if err := rows.Scan(&e.AgentID, &e.Counterparty, &e.BlockedUntil, &e.BlockedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning block: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PurgeExpiredBlocks deletes every expired entry across all agents.
func (s *SQLiteStore) PurgeExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blocked_numbers WHERE blocked_until <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging expired blocks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("purged expired blocks", "count", n)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
