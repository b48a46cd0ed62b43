package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/vendorbot/internal/agent"
	"github.com/nugget/vendorbot/internal/memory"
)

// testProcessor records inbound messages and returns a canned reply.
type testProcessor struct {
	mu    sync.Mutex
	calls []agent.Inbound
	reply *agent.Reply
}

func (p *testProcessor) ProcessMessage(_ context.Context, in agent.Inbound) *agent.Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, in)
	return p.reply
}

func (p *testProcessor) inbound() []agent.Inbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]agent.Inbound(nil), p.calls...)
}

type sentMessage struct {
	To, Body string
}

type testSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *testSender) Send(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{To: to, Body: body})
	return s.err
}

func (s *testSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	s, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func bridgeHelper(t *testing.T, opts ...func(*BridgeConfig)) (*Bridge, *memory.SQLiteStore, *testProcessor, *testSender) {
	t.Helper()
	store := newTestStore(t)
	proc := &testProcessor{reply: &agent.Reply{Text: "You have **2** open orders.", TokensUsed: 42}}
	sender := &testSender{}
	cfg := BridgeConfig{
		Store:     store,
		Processor: proc,
		Sender:    sender,
		Serialize: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return NewBridge(cfg), store, proc, sender
}

func TestBridge_HandlePersistsBothSides(t *testing.T) {
	bridge, store, proc, _ := bridgeHelper(t)
	ctx := t.Context()

	reply, err := bridge.Handle(ctx, Message{
		Identity:    "+15551234567",
		ProfileName: "Ada",
		Text:        "any new orders?",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Text != "You have **2** open orders." {
		t.Errorf("reply = %q", reply.Text)
	}

	calls := proc.inbound()
	if len(calls) != 1 || calls[0].Identity != "+15551234567" || calls[0].Text != "any new orders?" {
		t.Fatalf("processor calls = %+v", calls)
	}

	conv, err := store.GetConversation(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.DisplayName != "Ada" {
		t.Errorf("DisplayName = %q, want Ada", conv.DisplayName)
	}
	msgs, err := store.RecentMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	// Newest first.
	if msgs[0].Direction != memory.DirectionOutbound || msgs[0].TokensUsed != 42 {
		t.Errorf("outbound = %+v", msgs[0])
	}
	if msgs[1].Direction != memory.DirectionInbound || msgs[1].Content != "any new orders?" {
		t.Errorf("inbound = %+v", msgs[1])
	}
}

func TestBridge_RateLimited(t *testing.T) {
	bridge, store, proc, sender := bridgeHelper(t, func(c *BridgeConfig) { c.Limiter = denyAll{} })

	_, err := bridge.Handle(t.Context(), Message{Identity: "+15551234567", Text: "hi"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if len(proc.inbound()) != 0 {
		t.Error("processor called for a rate-limited message")
	}
	if _, err := store.GetConversation(t.Context(), "+15551234567"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("conversation created for a rate-limited message: %v", err)
	}

	bridge.Deliver(t.Context(), Message{Identity: "+15551234567", Text: "hi"})
	if got := sender.messages(); len(got) != 0 {
		t.Errorf("sent %v for a rate-limited message", got)
	}
}

func TestBridge_DeliverFormatsReply(t *testing.T) {
	bridge, _, _, sender := bridgeHelper(t)

	bridge.Deliver(t.Context(), Message{Identity: "+15551234567", Text: "orders?"})

	got := sender.messages()
	if len(got) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(got))
	}
	if got[0].To != "+15551234567" {
		t.Errorf("To = %q", got[0].To)
	}
	if got[0].Body != "You have *2* open orders." {
		t.Errorf("Body = %q", got[0].Body)
	}
}

func TestBridge_EmptyReplyBecomesApology(t *testing.T) {
	bridge, _, proc, sender := bridgeHelper(t)
	proc.reply = nil

	bridge.Deliver(t.Context(), Message{Identity: "+15551234567", Text: "hello"})

	got := sender.messages()
	if len(got) != 1 || got[0].Body != agent.ApologyReply {
		t.Errorf("sent = %+v, want the apology", got)
	}
}

func TestBridge_RequiresIdentity(t *testing.T) {
	bridge, _, _, _ := bridgeHelper(t)
	if _, err := bridge.Handle(t.Context(), Message{Text: "hi"}); err == nil {
		t.Error("Handle without identity succeeded")
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   Message
		wantOK bool
	}{
		{
			name: "text",
			params: map[string]string{
				"From": "whatsapp:+15551234567", "Body": " hi ", "ProfileName": "Ada", "MessageSid": "SM1", "NumMedia": "0",
			},
			want:   Message{Identity: "+15551234567", ProfileName: "Ada", Text: "hi", SID: "SM1"},
			wantOK: true,
		},
		{
			name: "media",
			params: map[string]string{
				"From": "whatsapp:+15551234567", "NumMedia": "2",
				"MediaUrl0": "https://api.twilio.example/m/1", "MediaContentType0": "image/jpeg",
			},
			want:   Message{Identity: "+15551234567", MediaURL: "https://api.twilio.example/m/1", MediaType: "image/jpeg"},
			wantOK: true,
		},
		{
			name:   "missing from",
			params: map[string]string{"Body": "hi"},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseMessage(tt.params)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseMessage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIdentityAndAddress(t *testing.T) {
	tests := []struct {
		in, identity, address string
	}{
		{"whatsapp:+15551234567", "+15551234567", "whatsapp:+15551234567"},
		{"+15551234567", "+15551234567", "whatsapp:+15551234567"},
		{"15551234567", "+15551234567", "whatsapp:+15551234567"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := Identity(tt.in); got != tt.identity {
			t.Errorf("Identity(%q) = %q, want %q", tt.in, got, tt.identity)
		}
		if got := Address(tt.in); got != tt.address {
			t.Errorf("Address(%q) = %q, want %q", tt.in, got, tt.address)
		}
	}
}

const (
	testAuthToken = "12345"
	testPublicURL = "https://bot.example/whatsapp/webhook"
)

// sign computes the X-Twilio-Signature for a form post.
func sign(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(u)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h http.Handler, form url.Values, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_AcknowledgesAndProcesses(t *testing.T) {
	bridge, _, proc, sender := bridgeHelper(t)
	h := NewWebhookHandler(WebhookConfig{Bridge: bridge})

	form := url.Values{
		"From":        {"whatsapp:+15551234567"},
		"Body":        {"any new orders?"},
		"ProfileName": {"Ada"},
		"MessageSid":  {"SM123"},
		"NumMedia":    {"0"},
	}
	rec := postWebhook(t, h, form, "")
	h.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q, want text/xml", ct)
	}
	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Errorf("body = %q, want empty TwiML", rec.Body.String())
	}
	if got := proc.inbound(); len(got) != 1 || got[0].Text != "any new orders?" {
		t.Errorf("processor calls = %+v", got)
	}
	if got := sender.messages(); len(got) != 1 || got[0].To != "+15551234567" {
		t.Errorf("sent = %+v", got)
	}
}

func TestWebhook_IgnoresEmptyMessage(t *testing.T) {
	bridge, _, proc, _ := bridgeHelper(t)
	h := NewWebhookHandler(WebhookConfig{Bridge: bridge})

	rec := postWebhook(t, h, url.Values{"From": {"whatsapp:+15551234567"}, "NumMedia": {"0"}}, "")
	h.Wait()

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := proc.inbound(); len(got) != 0 {
		t.Errorf("processor called for an empty message: %+v", got)
	}
}

func TestWebhook_MissingFrom(t *testing.T) {
	bridge, _, _, _ := bridgeHelper(t)
	h := NewWebhookHandler(WebhookConfig{Bridge: bridge})

	rec := postWebhook(t, h, url.Values{"Body": {"hi"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhook_Signature(t *testing.T) {
	form := url.Values{
		"From":       {"whatsapp:+15551234567"},
		"Body":       {"hello"},
		"MessageSid": {"SM9"},
		"NumMedia":   {"0"},
	}

	tests := []struct {
		name       string
		signature  string
		wantStatus int
		wantCalls  int
	}{
		{"valid", sign(testAuthToken, testPublicURL, form), http.StatusOK, 1},
		{"wrong token", sign("other", testPublicURL, form), http.StatusForbidden, 0},
		{"missing", "", http.StatusForbidden, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, _, proc, _ := bridgeHelper(t)
			h := NewWebhookHandler(WebhookConfig{
				Bridge:    bridge,
				AuthToken: testAuthToken,
				PublicURL: testPublicURL,
			})

			rec := postWebhook(t, h, form, tt.signature)
			h.Wait()

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := len(proc.inbound()); got != tt.wantCalls {
				t.Errorf("processor calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}
