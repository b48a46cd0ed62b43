package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so that lexical order in SQLite matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// SQLiteStore is the SQLite-backed [Store].
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the conversation database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection so that the action log can keep
// its table in the same database.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT PRIMARY KEY,
		identity     TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		store_id     INTEGER NOT NULL DEFAULT 0,
		store_name   TEXT NOT NULL DEFAULT '',
		verified     BOOLEAN NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		direction       TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT,
		media_url       TEXT,
		media_type      TEXT,
		tool_calls      TEXT,
		tokens_used     INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, created_at, id);

	CREATE TABLE IF NOT EXISTS vendor_links (
		identity    TEXT PRIMARY KEY,
		store_id    INTEGER NOT NULL,
		store_name  TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		verified    BOOLEAN NOT NULL DEFAULT 0,
		verified_at TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const conversationColumns = `id, identity, display_name, store_id, store_name, verified, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var created, updated string
	if err := row.Scan(&c.ID, &c.Identity, &c.DisplayName, &c.StoreID, &c.StoreName, &c.Verified, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// GetConversation returns the conversation for identity.
func (s *SQLiteStore) GetConversation(ctx context.Context, identity string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE identity = ?`, identity)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation for %s: %w", identity, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// CreateConversation inserts a conversation for identity unless one
// exists, then returns the stored row. A non-empty displayName refreshes
// the stored one.
func (s *SQLiteStore) CreateConversation(ctx context.Context, identity, displayName string) (*Conversation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate conversation ID: %w", err)
	}
	now := formatTime(s.now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, identity, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE conversations.display_name END
	`, id.String(), identity, displayName, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.GetConversation(ctx, identity)
}

// AppendMessage stores msg, assigning ID and CreatedAt when unset, and
// touches the conversation's updated_at.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ConversationID == "" {
		return errors.New("append message: conversation ID is required")
	}
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message ID: %w", err)
		}
		msg.ID = id.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.Role == "" {
		msg.Role = roleFor(msg.Direction)
	}

	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}

	created := formatTime(msg.CreatedAt)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, direction, role, content, media_url, media_type, tool_calls, tokens_used, created_at)
		SELECT ?, id, ?, ?, ?, ?, ?, ?, ?, ? FROM conversations WHERE id = ?
	`, msg.ID, msg.Direction, msg.Role, nullString(msg.Content), nullString(msg.MediaURL),
		nullString(msg.MediaType), toolCalls, msg.TokensUsed, created, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, created, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, direction, role, content, media_url, media_type, tool_calls, tokens_used, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var content, mediaURL, mediaType, toolCalls sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Role, &content,
			&mediaURL, &mediaType, &toolCalls, &m.TokensUsed, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Content = content.String
		m.MediaURL = mediaURL.String
		m.MediaType = mediaType.String
		m.CreatedAt = parseTime(created)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for message %s: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetVendorLink returns the link for identity.
func (s *SQLiteStore) GetVendorLink(ctx context.Context, identity string) (*VendorLink, error) {
	var l VendorLink
	var verifiedAt sql.NullString
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, store_id, store_name, email, verified, verified_at, created_at, updated_at
		FROM vendor_links WHERE identity = ?
	`, identity).Scan(&l.Identity, &l.StoreID, &l.StoreName, &l.Email, &l.Verified, &verifiedAt, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vendor link for %s: %w", identity, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor link: %w", err)
	}
	if verifiedAt.Valid {
		l.VerifiedAt = parseTime(verifiedAt.String)
	}
	l.CreatedAt = parseTime(created)
	l.UpdatedAt = parseTime(updated)
	return &l, nil
}

// UpsertVendorLink inserts or replaces the link for link.Identity.
func (s *SQLiteStore) UpsertVendorLink(ctx context.Context, link *VendorLink) error {
	if link.Identity == "" {
		return errors.New("upsert vendor link: identity is required")
	}
	now := s.now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now

	var verifiedAt sql.NullString
	if !link.VerifiedAt.IsZero() {
		verifiedAt = sql.NullString{String: formatTime(link.VerifiedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendor_links (identity, store_id, store_name, email, verified, verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			store_id = excluded.store_id,
			store_name = excluded.store_name,
			email = excluded.email,
			verified = excluded.verified,
			verified_at = excluded.verified_at,
			updated_at = excluded.updated_at
	`, link.Identity, link.StoreID, link.StoreName, strings.ToLower(link.Email), link.Verified,
		verifiedAt, formatTime(link.CreatedAt), formatTime(link.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert vendor link: %w", err)
	}
	return nil
}

// UpdateLinkage rewrites the conversation's denormalized store pointers.
func (s *SQLiteStore) UpdateLinkage(ctx context.Context, conversationID string, storeID int64, storeName string, verified bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET store_id = ?, store_name = ?, verified = ?, updated_at = ?
		WHERE id = ?
	`, storeID, storeName, verified, formatTime(s.now()), conversationID)
	if err != nil {
		return fmt.Errorf("update linkage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

func roleFor(direction string) string {
	if direction == DirectionOutbound {
		return RoleAssistant
	}
	return RoleUser
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
