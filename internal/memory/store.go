// Package memory persists vendor conversations and builds the bounded
// context the agent reasons over for each inbound message.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation or vendor link does not
// exist for the requested identity.
var ErrNotFound = errors.New("not found")

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is the single thread kept for one identity. The store
// fields are a weak linkage written before vendor links existed and by
// successful verification.
type Conversation struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name,omitempty"`
	StoreID     int64     `json:"store_id,omitempty"`
	StoreName   string    `json:"store_name,omitempty"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one immutable entry in a conversation. Empty Content means
// the message carried no text (for example a pure media message).
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Direction      string     `json:"direction"`
	Role           string     `json:"role"`
	Content        string     `json:"content,omitempty"`
	MediaURL       string     `json:"media_url,omitempty"`
	MediaType      string     `json:"media_type,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	TokensUsed     int        `json:"tokens_used,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ToolCall records one tool invocation made while producing a reply.
type ToolCall struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Output   json.RawMessage `json:"output"`
	Success  bool            `json:"success"`
	Duration time.Duration   `json:"duration"`
}

// VendorLink binds an identity to a commerce store. It is written only by
// a successful verification and gates every store-mutating tool.
type VendorLink struct {
	Identity   string    `json:"identity"`
	StoreID    int64     `json:"store_id"`
	StoreName  string    `json:"store_name"`
	Email      string    `json:"email,omitempty"`
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the persistence surface used by ingestion, the context
// builder and the verification tool.
type Store interface {
	// GetConversation returns ErrNotFound when identity has none.
	GetConversation(ctx context.Context, identity string) (*Conversation, error)
	// CreateConversation returns the existing conversation when one is
	// already present for identity.
	CreateConversation(ctx context.Context, identity, displayName string) (*Conversation, error)
	AppendMessage(ctx context.Context, msg *Message) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	// GetVendorLink returns ErrNotFound when identity is not linked.
	GetVendorLink(ctx context.Context, identity string) (*VendorLink, error)
	UpsertVendorLink(ctx context.Context, link *VendorLink) error
	UpdateLinkage(ctx context.Context, conversationID string, storeID int64, storeName string, verified bool) error
}
