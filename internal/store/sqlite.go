// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/tool-call/pending-action persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
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

	// Cascade deletes depend on foreign keys being enforced
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

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			owner_id         TEXT NOT NULL,
			title            TEXT NOT NULL,
			summary          TEXT,
			summary_source   TEXT,
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner_activity
			ON conversations(owner_id, last_activity_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			owner_id        TEXT NOT NULL,
			role            TEXT NOT NULL,
			blocks          TEXT NOT NULL,
			metadata        TEXT,
			created_at      TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant', 'system', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at, seq);

		CREATE INDEX IF NOT EXISTS idx_messages_owner
			ON messages(owner_id);

		CREATE TABLE IF NOT EXISTS tool_calls (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			owner_id        TEXT NOT NULL,
			message_id      TEXT REFERENCES messages(id) ON DELETE CASCADE,
			tool_name       TEXT NOT NULL,
			arguments       TEXT,
			result          TEXT,
			status          TEXT NOT NULL,
			error_text      TEXT,
			started_at      TEXT NOT NULL,
			finished_at     TEXT NOT NULL,
			metadata        TEXT,

			CHECK (status IN ('success', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation
			ON tool_calls(conversation_id, started_at);

		CREATE TABLE IF NOT EXISTS pending_actions (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			owner_id        TEXT NOT NULL,
			message_id      TEXT,
			tool_name       TEXT NOT NULL,
			arguments       TEXT,
			title           TEXT NOT NULL,
			description     TEXT,
			accept_label    TEXT,
			cancel_label    TEXT,
			status          TEXT NOT NULL DEFAULT 'proposed',
			cancel_reason   TEXT,
			result          TEXT,
			error_text      TEXT,
			created_at      TEXT NOT NULL,
			accepted_at     TEXT,
			canceled_at     TEXT,
			executed_at     TEXT,

			CHECK (status IN ('proposed', 'accepted', 'canceled', 'succeeded', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_pending_actions_conversation
			ON pending_actions(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_pending_actions_owner_status
			ON pending_actions(owner_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "conversations",
			column: "summary_source",
			apply:  `ALTER TABLE conversations ADD COLUMN summary_source TEXT`,
		},
		{
			table:  "pending_actions",
			column: "cancel_reason",
			apply:  `ALTER TABLE pending_actions ADD COLUMN cancel_reason TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = '%s'`, m.table, m.column)
		err := s.db.QueryRow(check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts an empty string to a NULL-able sql value
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime formats an optional time as RFC3339 or NULL
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// parseNullTime parses an optional RFC3339 column back into *time.Time
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalJSON serializes a map column, mapping nil to NULL
func marshalJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling json column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalJSON deserializes a map column, mapping NULL to nil
func unmarshalJSON(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling json column: %w", err)
	}
	return m, nil
}

// marshalBlocks serializes a block sequence; an empty sequence stores as "[]"
func marshalBlocks(blocks []Block) (string, error) {
	if blocks == nil {
		blocks = []Block{}
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		return "", fmt.Errorf("marshaling blocks: %w", err)
	}
	return string(data), nil
}

// unmarshalBlocks deserializes a block sequence column
func unmarshalBlocks(data string) ([]Block, error) {
	var blocks []Block
	if err := json.Unmarshal([]byte(data), &blocks); err != nil {
		return nil, fmt.Errorf("unmarshaling blocks: %w", err)
	}
	return blocks, nil
}

// GetOrCreateConversation returns the conversation with the given id for the
// owner, creating it with the supplied title if it does not exist. A second
// call with the same id returns the existing row unmodified; activity bumps
// are a separate TouchConversation call. Returns ErrConflict if the id is
// already in use by a different owner.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, id, ownerID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO conversations (id, owner_id, title, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		id,
		ownerID,
		title,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err == nil {
		s.logger.Debug("created conversation", "id", id, "owner", ownerID)
		return s.GetConversation(ctx, id, ownerID)
	}

	if !isConstraintViolation(err) {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	// Lost a creation race or the row already existed: fetch it, scoped to
	// the owner so a foreign row surfaces as a conflict rather than leaking.
	conv, getErr := s.GetConversation(ctx, id, ownerID)
	if errors.Is(getErr, ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation id is already in use", ErrConflict)
	}
	if getErr != nil {
		return nil, getErr
	}
	return conv, nil
}

// GetConversation retrieves a conversation by id for the given owner.
// Returns ErrNotFound if it doesn't exist or belongs to someone else.
func (s *SQLiteStore) GetConversation(ctx context.Context, id, ownerID string) (*Conversation, error) {
	query := `
		SELECT id, owner_id, title, summary, summary_source, created_at, last_activity_at
		FROM conversations
		WHERE id = ? AND owner_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id, ownerID)
	return scanConversation(row)
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var summary, summarySource sql.NullString
	var createdAtStr, lastActivityStr string

	err := row.Scan(
		&conv.ID,
		&conv.OwnerID,
		&conv.Title,
		&summary,
		&summarySource,
		&createdAtStr,
		&lastActivityStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.Summary = summary.String
	conv.SummarySource = summarySource.String

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.LastActivityAt, err = time.Parse(time.RFC3339, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}

	return &conv, nil
}

// TouchConversation bumps the conversation's last-activity timestamp.
// Returns ErrNotFound if the conversation doesn't exist for this owner.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id, ownerID string, t time.Time) error {
	query := `UPDATE conversations SET last_activity_at = ? WHERE id = ? AND owner_id = ?`

	result, err := s.db.ExecContext(ctx, query, t.UTC().Format(time.RFC3339), id, ownerID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateConversationTitle replaces the conversation title.
func (s *SQLiteStore) UpdateConversationTitle(ctx context.Context, id, ownerID, title string) error {
	query := `UPDATE conversations SET title = ? WHERE id = ? AND owner_id = ?`

	result, err := s.db.ExecContext(ctx, query, title, id, ownerID)
	if err != nil {
		return fmt.Errorf("updating conversation title: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateConversationSummary replaces the rolling summary and records where it
// came from.
func (s *SQLiteStore) UpdateConversationSummary(ctx context.Context, id, ownerID, summary, source string) error {
	query := `UPDATE conversations SET summary = ?, summary_source = ? WHERE id = ? AND owner_id = ?`

	result, err := s.db.ExecContext(ctx, query, nullString(summary), nullString(source), id, ownerID)
	if err != nil {
		return fmt.Errorf("updating conversation summary: %w", err)
	}
	return requireRowAffected(result)
}

// ListConversations returns one page of the owner's conversations ordered by
// most recent activity, the total count, and whether more pages remain.
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string, limit, offset int) ([]*Conversation, int, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE owner_id = ?`, ownerID,
	).Scan(&total); err != nil {
		return nil, 0, false, fmt.Errorf("counting conversations: %w", err)
	}

	query := `
		SELECT id, owner_id, title, summary, summary_source, created_at, last_activity_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY last_activity_at DESC, created_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, false, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, false, err
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("iterating conversations: %w", err)
	}

	hasMore := offset+len(conversations) < total
	return conversations, total, hasMore, nil
}

// DeleteConversation removes a conversation and, via foreign keys, all of its
// messages, tool calls, and pending actions in a single statement.
// Returns ErrNotFound if the conversation doesn't exist for this owner.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id, ownerID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	s.logger.Debug("deleted conversation", "id", id, "owner", ownerID)
	return nil
}

// requireRowAffected converts a zero-row update into ErrNotFound
func requireRowAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
