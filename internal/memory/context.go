package memory

import (
	"context"
	"errors"
	"fmt"
)

// DefaultHistoryWindow is the number of recent messages offered to the
// model when no window is configured. The window includes the inbound
// message being answered, since ingestion stores it before Build runs.
const DefaultHistoryWindow = 20

// HistoryEntry is one turn of the role-tagged transcript.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is the per-message view of one identity: who they
// are, which store they are linked to, and the recent transcript in
// chronological order. It carries no wall-clock fields, so two builds
// with no intervening writes compare equal.
type ConversationContext struct {
	ConversationID string         `json:"conversation_id"`
	Identity       string         `json:"identity"`
	DisplayName    string         `json:"display_name,omitempty"`
	Verified       bool           `json:"verified"`
	StoreID        int64          `json:"store_id,omitempty"`
	StoreName      string         `json:"store_name,omitempty"`
	History        []HistoryEntry `json:"history"`
}

// Linked reports whether the context has a store to act on.
func (cc *ConversationContext) Linked() bool {
	return cc != nil && cc.StoreID != 0
}

// Authorized reports whether the identity may act on its linked store.
func (cc *ConversationContext) Authorized() bool {
	return cc.Linked() && cc.Verified
}

// ContextBuilder assembles a [ConversationContext] from a [Store].
type ContextBuilder struct {
	store  Store
	window int
}

// NewContextBuilder returns a builder reading window messages of history.
// A non-positive window uses [DefaultHistoryWindow].
func NewContextBuilder(store Store, window int) *ContextBuilder {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &ContextBuilder{store: store, window: window}
}

// Build returns the context for identity. A missing conversation is a
// caller error and yields an error wrapping [ErrNotFound].
func (b *ContextBuilder) Build(ctx context.Context, identity string) (*ConversationContext, error) {
	conv, err := b.store.GetConversation(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	recent, err := b.store.RecentMessages(ctx, conv.ID, b.window)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	cc := &ConversationContext{
		ConversationID: conv.ID,
		Identity:       conv.Identity,
		DisplayName:    conv.DisplayName,
		History:        make([]HistoryEntry, 0, len(recent)),
	}

	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.Content == "" {
			continue
		}
		cc.History = append(cc.History, HistoryEntry{
			Role:    roleFor(m.Direction),
			Content: m.Content,
		})
	}

	if err := b.applyLinkage(ctx, cc, conv); err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	return cc, nil
}

// RefreshLinkage re-reads the linkage of an existing context in place,
// leaving its history untouched.
func (b *ContextBuilder) RefreshLinkage(ctx context.Context, cc *ConversationContext) error {
	conv, err := b.store.GetConversation(ctx, cc.Identity)
	if err != nil {
		return fmt.Errorf("refresh linkage: %w", err)
	}
	return b.applyLinkage(ctx, cc, conv)
}

func (b *ContextBuilder) applyLinkage(ctx context.Context, cc *ConversationContext, conv *Conversation) error {
	link, err := b.store.GetVendorLink(ctx, conv.Identity)
	switch {
	case err == nil:
		cc.Verified = link.Verified
		cc.StoreID = link.StoreID
		cc.StoreName = link.StoreName
	case errors.Is(err, ErrNotFound):
		// Pre-verification flows stored the store pointer on the
		// conversation itself.
		cc.Verified = conv.Verified
		cc.StoreID = conv.StoreID
		cc.StoreName = conv.StoreName
	default:
		return err
	}
	return nil
}
