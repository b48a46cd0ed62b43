// Package actionlog is the append-only audit trail of tool invocations.
// Every tool call the agent makes, successful or not, lands here once.
package actionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed width so created_at sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one recorded tool invocation.
type Entry struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Identity       string          `json:"identity"`
	ToolName       string          `json:"tool_name"`
	ToolCallID     string          `json:"tool_call_id,omitempty"`
	Input          json.RawMessage `json:"input"`
	Output         json.RawMessage `json:"output"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	Duration       time.Duration   `json:"duration"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Sink receives action log entries.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

// Store persists entries in SQLite. It shares the conversation
// database connection and owns only its own table.
type Store struct {
	db *sql.DB
}

// NewStore creates the action_log table on db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("action log migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS action_log (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT,
			identity        TEXT,
			tool_name       TEXT NOT NULL,
			tool_call_id    TEXT,
			input           TEXT,
			output          TEXT,
			success         BOOLEAN NOT NULL,
			error           TEXT,
			duration_ms     INTEGER NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_action_log_conversation
			ON action_log(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_action_log_tool
			ON action_log(tool_name, created_at);
	`)
	return err
}

// Append writes e, filling ID and CreatedAt when unset. Negative
// durations are clamped to zero.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate action log ID: %w", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Duration < 0 {
		e.Duration = 0
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_log
			(id, conversation_id, identity, tool_name, tool_call_id, input, output, success, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ConversationID, e.Identity, e.ToolName, e.ToolCallID,
		string(e.Input), string(e.Output), e.Success, e.Error,
		e.Duration.Milliseconds(), e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert action log entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for a conversation, newest first.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, identity, tool_name, tool_call_id, input, output, success, error, duration_ms, created_at
		FROM action_log
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query action log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var toolCallID, input, output, errText sql.NullString
		var durationMS int64
		var created string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Identity, &e.ToolName, &toolCallID,
			&input, &output, &e.Success, &errText, &durationMS, &created); err != nil {
			return nil, fmt.Errorf("scan action log entry: %w", err)
		}
		e.ToolCallID = toolCallID.String
		if input.String != "" {
			e.Input = json.RawMessage(input.String)
		}
		if output.String != "" {
			e.Output = json.RawMessage(output.String)
		}
		e.Error = errText.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ToolStats is the per-tool call count and failure count.
type ToolStats struct {
	Calls    int
	Failures int
}

// StatsSince aggregates calls per tool since t.
func (s *Store) StatsSince(ctx context.Context, t time.Time) (map[string]ToolStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*), SUM(CASE WHEN success THEN 0 ELSE 1 END)
		FROM action_log
		WHERE created_at >= ?
		GROUP BY tool_name
	`, t.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query action log stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]ToolStats)
	for rows.Next() {
		var name string
		var st ToolStats
		if err := rows.Scan(&name, &st.Calls, &st.Failures); err != nil {
			return nil, fmt.Errorf("scan action log stats: %w", err)
		}
		stats[name] = st
	}
	return stats, rows.Err()
}
