// Package agent implements the bounded tool-calling loop that turns one
// inbound vendor message into one reply.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nugget/vendorbot/internal/config"
	"github.com/nugget/vendorbot/internal/llm"
	"github.com/nugget/vendorbot/internal/memory"
	"github.com/nugget/vendorbot/internal/prompts"
	"github.com/nugget/vendorbot/internal/tools"
	"github.com/nugget/vendorbot/internal/usage"
)

var tracer = otel.Tracer("github.com/nugget/vendorbot/internal/agent")

// ApologyReply is returned when the message could not be processed.
const ApologyReply = prompts.ApologyReply

// FallbackReply is returned when the model produced no text.
const FallbackReply = prompts.EmptyResponseFallback

const (
	// DefaultMaxRounds caps model calls per inbound message.
	DefaultMaxRounds = 5

	// DefaultModelTimeout bounds a single model call.
	DefaultModelTimeout = 60 * time.Second

	usageWriteTimeout = 2 * time.Second
)

// Inbound is one message received from a vendor.
type Inbound struct {
	Identity  string
	Text      string
	MediaURL  string
	MediaType string
}

// Reply is the outcome of processing an Inbound. Text is never empty.
type Reply struct {
	Text         string            `json:"text"`
	ToolCalls    []memory.ToolCall `json:"tool_calls,omitempty"`
	TokensUsed   int               `json:"tokens_used"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	Rounds       int               `json:"rounds"`
	Model        string            `json:"model"`
}

// ContextSource builds and refreshes conversation contexts.
// *memory.ContextBuilder implements it.
type ContextSource interface {
	Build(ctx context.Context, identity string) (*memory.ConversationContext, error)
	RefreshLinkage(ctx context.Context, cc *memory.ConversationContext) error
}

// ToolExecutor runs tool calls. *tools.Dispatcher implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, call tools.Call, cc *memory.ConversationContext) *tools.Result
}

// UsageRecorder persists per-message token usage. *usage.Store
// implements it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config tunes the loop.
type Config struct {
	Model        string
	MaxRounds    int
	ModelTimeout time.Duration
	Pricing      map[string]config.PricingEntry
}

// Loop processes inbound messages. It holds no per-message state and is
// safe for concurrent use.
type Loop struct {
	contexts ContextSource
	llm      llm.Client
	tools    ToolExecutor
	catalog  []map[string]any
	usage    UsageRecorder
	logger   *slog.Logger

	model        string
	maxRounds    int
	modelTimeout time.Duration
	pricing      map[string]config.PricingEntry
}

// NewLoop creates a Loop. usage may be nil.
func NewLoop(cfg Config, contexts ContextSource, client llm.Client, exec ToolExecutor, rec UsageRecorder, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	return &Loop{
		contexts:     contexts,
		llm:          client,
		tools:        exec,
		catalog:      tools.Catalog(),
		usage:        rec,
		logger:       logger.With("component", "agent"),
		model:        cfg.Model,
		maxRounds:    cfg.MaxRounds,
		modelTimeout: cfg.ModelTimeout,
		pricing:      cfg.Pricing,
	}
}

// ProcessMessage runs the loop for one inbound message. It always
// returns a reply with non-empty Text; failures become ApologyReply.
func (l *Loop) ProcessMessage(ctx context.Context, in Inbound) (reply *Reply) {
	ctx, span := tracer.Start(ctx, "agent.process_message", trace.WithAttributes(
		attribute.String("vendor.identity", in.Identity),
		attribute.Bool("message.has_media", in.MediaType != ""),
	))
	defer span.End()

	start := time.Now()
	reply = &Reply{Model: l.model}
	var cc *memory.ConversationContext

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("agent loop panicked", "identity", in.Identity, "panic", r)
			span.SetStatus(codes.Error, fmt.Sprint(r))
			reply.Text = ApologyReply
		}
		reply.TokensUsed = reply.InputTokens + reply.OutputTokens
		span.SetAttributes(
			attribute.Int("agent.rounds", reply.Rounds),
			attribute.Int("agent.tool_calls", len(reply.ToolCalls)),
			attribute.Int("llm.tokens", reply.TokensUsed),
		)
		if reply.Rounds > 0 {
			l.recordUsage(ctx, cc, in.Identity, reply)
		}
		l.logger.Info("message processed",
			"identity", in.Identity,
			"rounds", reply.Rounds,
			"tool_calls", len(reply.ToolCalls),
			"tokens", reply.TokensUsed,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}()

	var err error
	cc, err = l.contexts.Build(ctx, in.Identity)
	if err != nil {
		l.logger.Error("context build failed", "identity", in.Identity, "error", err)
		span.SetStatus(codes.Error, err.Error())
		reply.Text = ApologyReply
		return reply
	}

	msgs := l.transcript(cc, in)
	var lastText string

	for round := 1; round <= l.maxRounds; round++ {
		reply.Rounds = round

		resp, err := l.callModel(ctx, msgs, round)
		if err != nil {
			l.logger.Error("model call failed",
				"identity", in.Identity,
				"round", round,
				"error", err,
			)
			span.SetStatus(codes.Error, err.Error())
			reply.Text = ApologyReply
			return reply
		}
		reply.InputTokens += resp.InputTokens
		reply.OutputTokens += resp.OutputTokens
		if resp.Model != "" {
			reply.Model = resp.Model
		}

		if text := strings.TrimSpace(resp.Message.Content); text != "" {
			lastText = text
		}
		if len(resp.Message.ToolCalls) == 0 {
			break
		}

		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})

		records, results := l.dispatch(ctx, resp.Message.ToolCalls, cc)
		changed := false
		for i, tc := range resp.Message.ToolCalls {
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(results[i].JSON()),
				ToolCallID: tc.ID,
			})
			changed = changed || results[i].ContextChanged
		}
		reply.ToolCalls = append(reply.ToolCalls, records...)

		if changed {
			if err := l.contexts.RefreshLinkage(ctx, cc); err != nil {
				l.logger.Warn("linkage refresh failed", "identity", in.Identity, "error", err)
			} else {
				msgs[0].Content = prompts.SystemPrompt(cc)
			}
		}

		if round == l.maxRounds {
			l.logger.Warn("tool round budget exhausted",
				"identity", in.Identity,
				"rounds", round,
			)
		}
	}

	reply.Text = lastText
	if reply.Text == "" {
		reply.Text = FallbackReply
	}
	return reply
}

// transcript composes the system prompt, bounded history and the new
// message. Ingestion persists the inbound message before the loop runs,
// so a trailing history entry matching it is dropped.
func (l *Loop) transcript(cc *memory.ConversationContext, in Inbound) []llm.Message {
	history := cc.History
	if n := len(history); n > 0 && history[n-1].Role == memory.RoleUser && history[n-1].Content == in.Text {
		history = history[:n-1]
	}
	// The model API requires the transcript to open with a user turn.
	for len(history) > 0 && history[0].Role != memory.RoleUser {
		history = history[1:]
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.SystemPrompt(cc)})
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: inboundContent(in)})
	return msgs
}

func inboundContent(in Inbound) string {
	text := strings.TrimSpace(in.Text)
	if in.MediaType == "" && in.MediaURL == "" {
		if text == "" {
			return "(empty message)"
		}
		return text
	}
	mediaType := in.MediaType
	if mediaType == "" {
		mediaType = "file"
	}
	marker := fmt.Sprintf(prompts.MediaMarker, mediaType)
	if text == "" {
		return marker
	}
	return marker + "\n" + text
}

func (l *Loop) callModel(ctx context.Context, msgs []llm.Message, round int) (*llm.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "agent.round", trace.WithAttributes(
		attribute.Int("agent.round", round),
		attribute.Int("llm.messages", len(msgs)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, l.modelTimeout)
	defer cancel()

	l.logger.Debug("calling model", "model", l.model, "round", round, "messages", len(msgs))
	resp, err := l.llm.Chat(ctx, l.model, msgs, l.catalog)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
		attribute.Int("llm.tool_calls", len(resp.Message.ToolCalls)),
	)
	return resp, nil
}

// dispatch runs every call of one round concurrently and returns the
// records and results in request order.
func (l *Loop) dispatch(ctx context.Context, calls []llm.ToolCall, cc *memory.ConversationContext) ([]memory.ToolCall, []*tools.Result) {
	records := make([]memory.ToolCall, len(calls))
	results := make([]*tools.Result, len(calls))

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			args := tools.ParseArgs(tc.Function.Arguments)
			started := time.Now()
			res := l.execute(ctx, tools.Call{ID: tc.ID, Name: tc.Function.Name, Args: args}, cc)
			if res == nil {
				res = &tools.Result{Success: false, Error: "tool returned no result"}
			}
			results[i] = res
			records[i] = memory.ToolCall{
				ID:       tc.ID,
				Name:     tc.Function.Name,
				Input:    args.JSON(),
				Output:   res.JSON(),
				Success:  res.Success,
				Duration: time.Since(started),
			}
		}()
	}
	wg.Wait()
	return records, results
}

func (l *Loop) execute(ctx context.Context, call tools.Call, cc *memory.ConversationContext) (res *tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tool execution panicked", "tool", call.Name, "panic", r)
			res = &tools.Result{Success: false, Error: "internal error in " + call.Name}
		}
	}()
	return l.tools.Execute(ctx, call, cc)
}

func (l *Loop) recordUsage(ctx context.Context, cc *memory.ConversationContext, identity string, reply *Reply) {
	if l.usage == nil {
		return
	}
	rec := usage.Record{
		Identity:     identity,
		Model:        reply.Model,
		Rounds:       reply.Rounds,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
		ToolCalls:    len(reply.ToolCalls),
		CostUSD:      usage.ComputeCost(reply.Model, reply.InputTokens, reply.OutputTokens, l.pricing),
	}
	if cc != nil {
		rec.ConversationID = cc.ConversationID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()
	if err := l.usage.Record(ctx, rec); err != nil {
		l.logger.Warn("usage record failed", "identity", identity, "error", err)
	}
}
