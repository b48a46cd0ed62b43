// Package whatsapp connects the Twilio WhatsApp channel to the agent
// loop: inbound webhooks, per-sender rate limiting and serialization,
// persistence of both sides of the exchange, and reply formatting.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/vendorbot/internal/agent"
	"github.com/nugget/vendorbot/internal/memory"
)

// ErrRateLimited is returned by Handle when the sender is over the
// per-minute limit.
var ErrRateLimited = errors.New("sender is rate limited")

// persistTimeout bounds the write of the outbound message once a reply
// exists.
const persistTimeout = 5 * time.Second

// Processor abstracts the agent loop for testability. The real
// implementation is *agent.Loop.
type Processor interface {
	ProcessMessage(ctx context.Context, in agent.Inbound) *agent.Reply
}

// ConversationStore is the part of memory.Store the bridge writes to.
type ConversationStore interface {
	CreateConversation(ctx context.Context, identity, displayName string) (*memory.Conversation, error)
	AppendMessage(ctx context.Context, msg *memory.Message) error
}

// Message is one inbound WhatsApp message, already normalized.
type Message struct {
	Identity    string
	ProfileName string
	Text        string
	MediaURL    string
	MediaType   string
	SID         string
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Store     ConversationStore
	Processor Processor
	Sender    Sender
	Limiter   RateLimiter // nil = unlimited
	Serialize bool        // one message at a time per sender
	Logger    *slog.Logger
}

// Bridge runs inbound messages through the agent loop and delivers
// the replies.
type Bridge struct {
	store     ConversationStore
	processor Processor
	sender    Sender
	limiter   RateLimiter
	locks     *KeyedMutex
	logger    *slog.Logger
}

// NewBridge creates a WhatsApp bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		store:     cfg.Store,
		processor: cfg.Processor,
		sender:    cfg.Sender,
		limiter:   cfg.Limiter,
		logger:    logger.With("component", "whatsapp"),
	}
	if cfg.Serialize {
		b.locks = NewKeyedMutex()
	}
	return b
}

// Handle persists msg, runs it through the agent loop and persists the
// reply. It does not send anything.
func (b *Bridge) Handle(ctx context.Context, msg Message) (*agent.Reply, error) {
	if msg.Identity == "" {
		return nil, errors.New("handle: identity is required")
	}
	if b.limiter != nil && !b.limiter.Allow(msg.Identity) {
		b.logger.Warn("whatsapp message rate-limited", "sender", msg.Identity)
		return nil, ErrRateLimited
	}

	if b.locks != nil {
		unlock := b.locks.Lock(msg.Identity)
		defer unlock()
	}

	conv, err := b.store.CreateConversation(ctx, msg.Identity, msg.ProfileName)
	if err != nil {
		return nil, fmt.Errorf("handle: %w", err)
	}

	b.logger.Info("whatsapp message received",
		"sender", msg.Identity,
		"conversation_id", conv.ID,
		"message_len", len(msg.Text),
		"media", msg.MediaType,
		"sid", msg.SID,
	)

	if err := b.store.AppendMessage(ctx, &memory.Message{
		ConversationID: conv.ID,
		Direction:      memory.DirectionInbound,
		Content:        msg.Text,
		MediaURL:       msg.MediaURL,
		MediaType:      msg.MediaType,
	}); err != nil {
		return nil, fmt.Errorf("handle: store inbound: %w", err)
	}

	reply := b.processor.ProcessMessage(ctx, agent.Inbound{
		Identity:  msg.Identity,
		Text:      msg.Text,
		MediaURL:  msg.MediaURL,
		MediaType: msg.MediaType,
	})
	if reply == nil || reply.Text == "" {
		reply = &agent.Reply{Text: agent.ApologyReply}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := b.store.AppendMessage(writeCtx, &memory.Message{
		ConversationID: conv.ID,
		Direction:      memory.DirectionOutbound,
		Content:        reply.Text,
		ToolCalls:      reply.ToolCalls,
		TokensUsed:     reply.TokensUsed,
	}); err != nil {
		b.logger.Error("whatsapp reply not stored",
			"sender", msg.Identity,
			"conversation_id", conv.ID,
			"error", err,
		)
	}

	return reply, nil
}

// Deliver handles msg and sends the formatted reply. Rate-limited
// messages are dropped without a reply; other failures send the
// apology.
func (b *Bridge) Deliver(ctx context.Context, msg Message) {
	reply, err := b.Handle(ctx, msg)
	switch {
	case errors.Is(err, ErrRateLimited):
		return
	case err != nil:
		b.logger.Error("whatsapp message handling failed", "sender", msg.Identity, "error", err)
		reply = &agent.Reply{Text: agent.ApologyReply}
	}

	if b.sender == nil {
		b.logger.Warn("whatsapp sender not configured, reply dropped", "sender", msg.Identity)
		return
	}

	body := Format(reply.Text)
	if body == "" {
		body = reply.Text
	}
	if err := b.sender.Send(context.WithoutCancel(ctx), msg.Identity, body); err != nil {
		b.logger.Error("whatsapp reply send failed", "sender", msg.Identity, "error", err)
		return
	}

	b.logger.Info("whatsapp reply sent",
		"sender", msg.Identity,
		"response_len", len(body),
		"rounds", reply.Rounds,
		"tokens", reply.TokensUsed,
	)
}
