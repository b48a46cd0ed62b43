// Package api implements the HTTP surface: the Twilio webhook, a
// synchronous chat endpoint for development, and read-only views of
// the action log and token usage.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/vendorbot/internal/actionlog"
	"github.com/nugget/vendorbot/internal/agent"
	"github.com/nugget/vendorbot/internal/buildinfo"
	"github.com/nugget/vendorbot/internal/health"
	"github.com/nugget/vendorbot/internal/memory"
	"github.com/nugget/vendorbot/internal/usage"
	"github.com/nugget/vendorbot/internal/whatsapp"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	})
}

// MessageHandler runs one message through the bridge without sending
// the reply. *whatsapp.Bridge implements it.
type MessageHandler interface {
	Handle(ctx context.Context, msg whatsapp.Message) (*agent.Reply, error)
}

// ActionLog is the read side of the action log. *actionlog.Store
// implements it.
type ActionLog interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]actionlog.Entry, error)
	StatsSince(ctx context.Context, t time.Time) (map[string]actionlog.ToolStats, error)
}

// UsageReporter aggregates token usage. *usage.Store implements it.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByIdentity(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// ConversationLookup finds the conversation of an identity.
type ConversationLookup interface {
	GetConversation(ctx context.Context, identity string) (*memory.Conversation, error)
}

// HealthReporter reports the reachability of external dependencies.
// *health.Monitor implements it.
type HealthReporter interface {
	Status() []health.Status
	Ready() bool
}

// Config holds the dependencies for a Server. Nil components disable
// their endpoints.
type Config struct {
	Address       string
	Port          int
	APIKey        string
	Chat          MessageHandler
	Webhook       http.Handler
	Actions       ActionLog
	Usage         UsageReporter
	Conversations ConversationLookup
	Health        HealthReporter
	Logger        *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	apiKey        string
	chat          MessageHandler
	webhook       http.Handler
	actions       ActionLog
	usage         UsageReporter
	conversations ConversationLookup
	health        HealthReporter
	logger        *slog.Logger
	server        *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:       cfg.Address,
		port:          cfg.Port,
		apiKey:        cfg.APIKey,
		chat:          cfg.Chat,
		webhook:       cfg.Webhook,
		actions:       cfg.Actions,
		usage:         cfg.Usage,
		conversations: cfg.Conversations,
		health:        cfg.Health,
		logger:        logger.With("component", "api"),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(withLogging(s.logger))
	r.Use(withTracing)

	r.Get("/health", s.handleHealth)
	if s.webhook != nil {
		r.Method(http.MethodPost, "/whatsapp/webhook", s.webhook)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireAPIKey(s.apiKey))
		r.Get("/version", s.handleVersion)
		r.Post("/chat", s.handleChat)
		r.Get("/conversations/{identity}/actions", s.handleActions)
		r.Get("/tools/stats", s.handleToolStats)
		r.Get("/usage", s.handleUsage)
	})
	return r
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // /v1/chat waits for the whole agent loop
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth always answers 200 while the process serves. An
// unreachable dependency reports "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "healthy",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	}
	if s.health != nil {
		if !s.health.Ready() {
			resp["status"] = "degraded"
		}
		resp["dependencies"] = s.health.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.BuildInfo(), s.logger)
}

// ChatRequest submits a message as if it arrived from identity.
type ChatRequest struct {
	Identity    string `json:"identity"`
	Message     string `json:"message"`
	ProfileName string `json:"profile_name,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
}

// ChatResponse is the reply to a ChatRequest. Formatted is the text as
// it would be sent over WhatsApp.
type ChatResponse struct {
	Response     string   `json:"response"`
	Formatted    string   `json:"formatted"`
	Model        string   `json:"model"`
	Rounds       int      `json:"rounds"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	ToolCalls    []string `json:"tool_calls,omitempty"` // Tool names used
}

// handleChat runs one message through the bridge synchronously.
// POST /v1/chat {"identity": "+15551234567", "message": "my orders"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		errorResponse(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := whatsapp.Identity(req.Identity)
	if identity == "" {
		errorResponse(w, http.StatusBadRequest, "identity is required")
		return
	}
	if req.Message == "" && req.MediaURL == "" {
		errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.chat.Handle(r.Context(), whatsapp.Message{
		Identity:    identity,
		ProfileName: req.ProfileName,
		Text:        req.Message,
		MediaURL:    req.MediaURL,
		MediaType:   req.MediaType,
	})
	if errors.Is(err, whatsapp.ErrRateLimited) {
		errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if err != nil {
		s.logger.Error("chat failed", "identity", identity, "error", err)
		errorResponse(w, http.StatusInternalServerError, "chat failed")
		return
	}

	resp := ChatResponse{
		Response:     reply.Text,
		Formatted:    whatsapp.Format(reply.Text),
		Model:        reply.Model,
		Rounds:       reply.Rounds,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
	}
	for _, tc := range reply.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, tc.Name)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// handleActions lists the most recent tool calls for one identity.
// GET /v1/conversations/{identity}/actions?limit=50
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil || s.conversations == nil {
		errorResponse(w, http.StatusServiceUnavailable, "action log not configured")
		return
	}

	identity := whatsapp.Identity(chi.URLParam(r, "identity"))
	conv, err := s.conversations.GetConversation(r.Context(), identity)
	if errors.Is(err, memory.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "no conversation for "+identity)
		return
	}
	if err != nil {
		s.logger.Error("conversation lookup failed", "identity", identity, "error", err)
		errorResponse(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	limit := parseIntParam(r, "limit", 50)
	entries, err := s.actions.Recent(r.Context(), conv.ID, limit)
	if err != nil {
		s.logger.Error("action log query failed", "identity", identity, "error", err)
		errorResponse(w, http.StatusInternalServerError, "query failed")
		return
	}
	if entries == nil {
		entries = []actionlog.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation_id": conv.ID,
		"identity":        conv.Identity,
		"actions":         entries,
	}, s.logger)
}

// handleToolStats aggregates tool calls over a window.
// GET /v1/tools/stats?hours=24
func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		errorResponse(w, http.StatusServiceUnavailable, "action log not configured")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	stats, err := s.actions.StatsSince(r.Context(), since)
	if err != nil {
		s.logger.Error("tool stats query failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"hours": hours,
		"tools": stats,
	}, s.logger)
}

// handleUsage reports token usage and cost over a window, overall, per
// model and per vendor.
// GET /v1/usage?hours=24
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "query failed")
		return
	}
	byModel, err := s.usage.SummaryByModel(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "query failed")
		return
	}
	byIdentity, err := s.usage.SummaryByIdentity(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage query failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"hours":       hours,
		"total":       total,
		"by_model":    byModel,
		"by_identity": byIdentity,
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
