package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRole is returned by Append for an unknown role.
var ErrInvalidRole = errors.New("invalid message role")

// Store is a SQLite-backed session memory.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a session store on an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			arguments TEXT NOT NULL,
			result TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			duration_ms INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, started_at);
	`)
	return err
}

// Append adds a message to a session. The stored timestamp is the later
// of the current time and one nanosecond after the session's newest
// message, so a session's messages are strictly ordered even when the
// clock stalls or steps backwards.
func (s *Store) Append(sessionID string, role Role, content string, meta Metadata) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if meta.TokenCount == 0 {
		meta.TokenCount = estimateTokens(content)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	id, _ := uuid.NewV7()
	var createdAt int64
	err = s.db.QueryRow(`
		INSERT INTO messages (id, session_id, role, content, metadata, created_at)
		SELECT ?, ?, ?, ?, ?, MAX(?, COALESCE(
			(SELECT MAX(created_at) FROM messages WHERE session_id = ?), 0) + 1)
		RETURNING created_at
	`, id.String(), sessionID, string(role), content, string(metaJSON),
		s.now().UnixNano(), sessionID).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return &Message{
		ID:        id.String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  meta,
		CreatedAt: time.Unix(0, createdAt).UTC(),
	}, nil
}

// Recent returns up to limit of the session's newest messages, oldest
// first.
func (s *Store) Recent(sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// All returns a session's full transcript, oldest first.
func (s *Store) All(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Clear removes a session's messages and tool call records, returning
// the number of messages deleted.
func (s *Store) Clear(sessionID string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tool_calls WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("delete tool calls: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// Sessions lists sessions, most recently active first.
func (s *Store) Sessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM messages
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			ss          SessionSummary
			first, last int64
		)
		if err := rows.Scan(&ss.ID, &ss.MessageCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.StartedAt = time.Unix(0, first).UTC()
		ss.LastActive = time.Unix(0, last).UTC()
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Stats returns memory statistics.
func (s *Store) Stats() map[string]any {
	var sessions, messages, toolCalls int
	_ = s.db.QueryRow(`SELECT COUNT(DISTINCT session_id), COUNT(*) FROM messages`).Scan(&sessions, &messages)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM tool_calls`).Scan(&toolCalls)

	return map[string]any{
		"sessions":   sessions,
		"messages":   messages,
		"tool_calls": toolCalls,
		"storage":    "sqlite",
	}
}

// RecordToolCall stores the start of a tool invocation and returns its id.
func (s *Store) RecordToolCall(sessionID, toolName, arguments string) (string, error) {
	id, _ := uuid.NewV7()
	_, err := s.db.Exec(`
		INSERT INTO tool_calls (id, session_id, tool_name, arguments, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), sessionID, toolName, arguments, s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("record tool call: %w", err)
	}
	return id.String(), nil
}

// CompleteToolCall stores a tool invocation's result.
func (s *Store) CompleteToolCall(id, result string) error {
	now := s.now().UnixNano()
	_, err := s.db.Exec(`
		UPDATE tool_calls
		SET result = ?, completed_at = ?, duration_ms = (? - started_at) / 1000000
		WHERE id = ?
	`, result, now, now, id)
	if err != nil {
		return fmt.Errorf("complete tool call: %w", err)
	}
	return nil
}

// ToolCalls returns a session's newest tool calls, newest first.
func (s *Store) ToolCalls(sessionID string, limit int) ([]ToolCall, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, tool_name, arguments, result, started_at, completed_at, duration_ms
		FROM tool_calls
		WHERE session_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var (
			tc        ToolCall
			result    sql.NullString
			started   int64
			completed sql.NullInt64
			duration  sql.NullInt64
		)
		if err := rows.Scan(&tc.ID, &tc.SessionID, &tc.ToolName, &tc.Arguments,
			&result, &started, &completed, &duration); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.Result = result.String
		tc.StartedAt = time.Unix(0, started).UTC()
		if completed.Valid {
			t := time.Unix(0, completed.Int64).UTC()
			tc.CompletedAt = &t
		}
		tc.DurationMs = duration.Int64
		out = append(out, tc)
	}
	return out, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	msgs := []Message{}
	for rows.Next() {
		var (
			m         Message
			role      string
			meta      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("message %s: decode metadata: %w", m.ID, err)
			}
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// estimateTokens is a rough count at about four characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}
