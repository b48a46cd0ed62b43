package memory

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory_test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })

	// Deterministic, strictly increasing clock.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestCreateConversation_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "+15550001111", "Ada")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateConversation(ctx, "+15550001111", "")
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Errorf("second create returned a new conversation: %s vs %s", first.ID, second.ID)
	}
	if second.DisplayName != "Ada" {
		t.Errorf("empty display name overwrote stored one: %q", second.DisplayName)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetConversation(context.Background(), "+19999999999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := testStore(t)
	err := s.AppendMessage(context.Background(), &Message{
		ConversationID: "missing",
		Direction:      DirectionInbound,
		Content:        "hello",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecentMessages_NewestFirstWithToolCalls(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "+15550001111", "")

	for _, text := range []string{"one", "two", "three"} {
		if err := s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionInbound, Content: text}); err != nil {
			t.Fatal(err)
		}
	}
	out := &Message{
		ConversationID: conv.ID,
		Direction:      DirectionOutbound,
		Content:        "done",
		TokensUsed:     42,
		ToolCalls: []ToolCall{{
			ID:      "toolu_1",
			Name:    "list_products",
			Input:   json.RawMessage(`{"limit":5}`),
			Output:  json.RawMessage(`{"success":true}`),
			Success: true,
		}},
	}
	if err := s.AppendMessage(ctx, out); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.RecentMessages(ctx, conv.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "done" || msgs[2].Content != "two" {
		t.Errorf("order = %q, %q, %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
	if msgs[0].Role != RoleAssistant {
		t.Errorf("outbound role = %q, want %q", msgs[0].Role, RoleAssistant)
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Name != "list_products" {
		t.Errorf("tool calls not round-tripped: %+v", msgs[0].ToolCalls)
	}
	if msgs[0].TokensUsed != 42 {
		t.Errorf("tokens = %d, want 42", msgs[0].TokensUsed)
	}
}

func TestVendorLink_Upsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.GetVendorLink(ctx, "+15550001111"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	verifiedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	link := &VendorLink{Identity: "+15550001111", StoreID: 7, StoreName: "Kiln & Co", Email: "Owner@Example.com", Verified: true, VerifiedAt: verifiedAt}
	if err := s.UpsertVendorLink(ctx, link); err != nil {
		t.Fatal(err)
	}
	link2 := &VendorLink{Identity: "+15550001111", StoreID: 8, StoreName: "Kiln Two", Verified: true, VerifiedAt: verifiedAt}
	if err := s.UpsertVendorLink(ctx, link2); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetVendorLink(ctx, "+15550001111")
	if err != nil {
		t.Fatal(err)
	}
	if got.StoreID != 8 || got.StoreName != "Kiln Two" || !got.Verified {
		t.Errorf("unexpected link %+v", got)
	}
	if !got.VerifiedAt.Equal(verifiedAt) {
		t.Errorf("verified_at = %v, want %v", got.VerifiedAt, verifiedAt)
	}
}

func TestUpdateLinkage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "+15550001111", "")

	if err := s.UpdateLinkage(ctx, conv.ID, 12, "Loom House", true); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetConversation(ctx, "+15550001111")
	if got.StoreID != 12 || got.StoreName != "Loom House" || !got.Verified {
		t.Errorf("linkage not stored: %+v", got)
	}

	if err := s.UpdateLinkage(ctx, "missing", 1, "x", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestContextBuilder_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "+15550001111", "Ada")

	s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionInbound, Content: "hi"})
	s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionInbound, MediaURL: "https://media/1", MediaType: "image/jpeg"})
	s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionOutbound, Content: "hello Ada"})

	cc, err := NewContextBuilder(s, 10).Build(ctx, "+15550001111")
	if err != nil {
		t.Fatal(err)
	}

	want := []HistoryEntry{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello Ada"},
	}
	if !reflect.DeepEqual(cc.History, want) {
		t.Errorf("history = %+v, want %+v", cc.History, want)
	}
	if cc.DisplayName != "Ada" || cc.ConversationID != conv.ID {
		t.Errorf("unexpected context %+v", cc)
	}
	if cc.Verified || cc.Linked() {
		t.Error("fresh identity should be unverified and unlinked")
	}
}

func TestContextBuilder_WindowIsBounded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "+15550001111", "")

	for i := 0; i < 30; i++ {
		s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionInbound, Content: string(rune('a' + i%26))})
	}

	cc, err := NewContextBuilder(s, 0).Build(ctx, "+15550001111")
	if err != nil {
		t.Fatal(err)
	}
	if len(cc.History) != DefaultHistoryWindow {
		t.Fatalf("history len = %d, want %d", len(cc.History), DefaultHistoryWindow)
	}
	// Oldest retained message is the 11th appended (index 10).
	if cc.History[0].Content != "k" {
		t.Errorf("first entry = %q, want %q", cc.History[0].Content, "k")
	}
}

func TestContextBuilder_MissingConversation(t *testing.T) {
	s := testStore(t)
	_, err := NewContextBuilder(s, 5).Build(context.Background(), "+10000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestContextBuilder_Linkage(t *testing.T) {
	ctx := context.Background()

	t.Run("vendor link wins", func(t *testing.T) {
		s := testStore(t)
		conv, _ := s.CreateConversation(ctx, "+15550001111", "")
		s.UpdateLinkage(ctx, conv.ID, 3, "Old Store", false)
		s.UpsertVendorLink(ctx, &VendorLink{Identity: "+15550001111", StoreID: 9, StoreName: "New Store", Verified: true, VerifiedAt: time.Now()})

		cc, err := NewContextBuilder(s, 5).Build(ctx, "+15550001111")
		if err != nil {
			t.Fatal(err)
		}
		if !cc.Verified || cc.StoreID != 9 || cc.StoreName != "New Store" {
			t.Errorf("unexpected linkage %+v", cc)
		}
	})

	t.Run("falls back to conversation fields", func(t *testing.T) {
		s := testStore(t)
		conv, _ := s.CreateConversation(ctx, "+15550001111", "")
		s.UpdateLinkage(ctx, conv.ID, 3, "Legacy Store", true)

		cc, err := NewContextBuilder(s, 5).Build(ctx, "+15550001111")
		if err != nil {
			t.Fatal(err)
		}
		if !cc.Verified || cc.StoreID != 3 || cc.StoreName != "Legacy Store" {
			t.Errorf("unexpected linkage %+v", cc)
		}
	})
}

func TestContextBuilder_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "+15550001111", "Ada")
	s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionInbound, Content: "hi"})
	s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionOutbound, Content: "hello"})

	b := NewContextBuilder(s, 20)
	first, err := b.Build(ctx, "+15550001111")
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(ctx, "+15550001111")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("builds differ:\n%+v\n%+v", first, second)
	}
}

func TestContextBuilder_RefreshLinkage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "+15550001111", "")
	s.AppendMessage(ctx, &Message{ConversationID: conv.ID, Direction: DirectionInbound, Content: "verify me"})

	b := NewContextBuilder(s, 20)
	cc, _ := b.Build(ctx, "+15550001111")
	if cc.Verified {
		t.Fatal("should start unverified")
	}

	s.UpsertVendorLink(ctx, &VendorLink{Identity: "+15550001111", StoreID: 5, StoreName: "Five", Verified: true})
	if err := b.RefreshLinkage(ctx, cc); err != nil {
		t.Fatal(err)
	}
	if !cc.Verified || cc.StoreID != 5 {
		t.Errorf("linkage not refreshed: %+v", cc)
	}
	if len(cc.History) != 1 {
		t.Errorf("history changed: %+v", cc.History)
	}
}
