package whatsapp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go/client"
)

// DefaultProcessTimeout bounds the asynchronous handling of one
// webhook message, agent loop and send included.
const DefaultProcessTimeout = 3 * time.Minute

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without replying inline. The reply
// is sent later through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// WebhookConfig configures a WebhookHandler.
type WebhookConfig struct {
	Bridge *Bridge
	// AuthToken enables X-Twilio-Signature validation when non-empty.
	AuthToken string
	// PublicURL is the URL Twilio posts to, as it signs it.
	PublicURL      string
	ProcessTimeout time.Duration
	Logger         *slog.Logger
}

// WebhookHandler receives Twilio WhatsApp webhooks. It acknowledges
// each request immediately and processes the message in the
// background.
type WebhookHandler struct {
	bridge    *Bridge
	validator *client.RequestValidator
	publicURL string
	timeout   time.Duration
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	h := &WebhookHandler{
		bridge:    cfg.Bridge,
		publicURL: cfg.PublicURL,
		timeout:   timeout,
		logger:    logger.With("component", "whatsapp"),
	}
	if cfg.AuthToken != "" {
		v := client.NewRequestValidator(cfg.AuthToken)
		h.validator = &v
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	if h.validator != nil && !h.validator.Validate(h.publicURL, params, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("whatsapp webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg, ok := parseMessage(params)
	if !ok {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))

	if msg.Text == "" && msg.MediaURL == "" {
		h.logger.Debug("whatsapp ignoring empty message", "sender", msg.Identity, "sid", msg.SID)
		return
	}

	base := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(base, h.timeout)
		defer cancel()
		h.bridge.Deliver(ctx, msg)
	}()
}

// Wait blocks until every message accepted so far has been processed.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

// parseMessage extracts the message from Twilio webhook fields. Only
// the first attachment is kept.
func parseMessage(params map[string]string) (Message, bool) {
	identity := Identity(params["From"])
	if identity == "" {
		return Message{}, false
	}
	msg := Message{
		Identity:    identity,
		ProfileName: strings.TrimSpace(params["ProfileName"]),
		Text:        strings.TrimSpace(params["Body"]),
		SID:         params["MessageSid"],
	}
	if n, _ := strconv.Atoi(params["NumMedia"]); n > 0 {
		msg.MediaURL = params["MediaUrl0"]
		msg.MediaType = params["MediaContentType0"]
	}
	return msg, true
}
