package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/vendorbot/internal/config"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"claude-opus-4-20250514":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
		"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	}
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{
			Timestamp:      now,
			ConversationID: "conv-1",
			Identity:       "+15550001111",
			Model:          "claude-opus-4-20250514",
			Rounds:         2,
			InputTokens:    1000,
			OutputTokens:   500,
			ToolCalls:      1,
			CostUSD:        0.0525,
		},
		{
			Timestamp:      now,
			ConversationID: "conv-2",
			Identity:       "+15550002222",
			Model:          "claude-sonnet-4-20250514",
			Rounds:         1,
			InputTokens:    2000,
			OutputTokens:   1000,
			CostUSD:        0.021,
		},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 3000 || sum.TotalOutputTokens != 1500 {
		t.Errorf("tokens = %d/%d, want 3000/1500", sum.TotalInputTokens, sum.TotalOutputTokens)
	}
	if sum.TotalToolCalls != 1 {
		t.Errorf("TotalToolCalls = %d, want 1", sum.TotalToolCalls)
	}
	if diff := sum.TotalCostUSD - 0.0735; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("TotalCostUSD = %f, want ~0.0735", sum.TotalCostUSD)
	}
}

func TestSummaryByModelAndIdentity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Identity: "+1a", Model: "opus", InputTokens: 100, OutputTokens: 50, CostUSD: 1.0},
		{Timestamp: now, Identity: "+1a", Model: "opus", InputTokens: 200, OutputTokens: 100, CostUSD: 2.0},
		{Timestamp: now, Identity: "+1b", Model: "sonnet", InputTokens: 50, OutputTokens: 25, CostUSD: 0.5},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byModel, err := s.SummaryByModel(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("got %d model groups, want 2", len(byModel))
	}
	if opus := byModel["opus"]; opus == nil || opus.TotalRecords != 2 || opus.TotalCostUSD != 3.0 {
		t.Errorf("opus = %+v", opus)
	}

	byIdentity, err := s.SummaryByIdentity(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByIdentity: %v", err)
	}
	if b := byIdentity["+1b"]; b == nil || b.TotalInputTokens != 50 {
		t.Errorf("+1b = %+v", b)
	}
}

func TestSummary_FiltersByPeriod(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	for _, rec := range []Record{
		{Timestamp: base.Add(-2 * time.Hour), Model: "m", CostUSD: 1.0},
		{Timestamp: base, Model: "m", CostUSD: 2.0},
		{Timestamp: base.Add(2 * time.Hour), Model: "m", CostUSD: 3.0},
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 || sum.TotalCostUSD != 2.0 {
		t.Errorf("summary = %+v, want one record costing 2.0", sum)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sum, err := s.Summary(ctx, time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum == nil || sum.TotalRecords != 0 {
		t.Errorf("summary = %+v, want zero value", sum)
	}

	byModel, err := s.SummaryByModel(ctx, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if byModel == nil || len(byModel) != 0 {
		t.Errorf("byModel = %v, want empty map", byModel)
	}
}

func TestComputeCost(t *testing.T) {
	pricing := testPricing()

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{"opus_normal", "claude-opus-4-20250514", 1_000_000, 100_000, 22.5},
		{"sonnet_normal", "claude-sonnet-4-20250514", 1_000_000, 100_000, 4.5},
		{"unknown_model", "claude-unknown", 1_000_000, 1_000_000, 0},
		{"zero_tokens", "claude-opus-4-20250514", 0, 0, 0},
		{"small_usage", "claude-opus-4-20250514", 1000, 500, 0.0525},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCost(tt.model, tt.input, tt.output, pricing)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("ComputeCost(%q, %d, %d) = %f, want %f", tt.model, tt.input, tt.output, got, tt.want)
			}
		})
	}

	if got := ComputeCost("claude-opus-4-20250514", 1000, 500, nil); got != 0 {
		t.Errorf("ComputeCost with nil pricing = %f, want 0", got)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	if _, err := NewStore("/nonexistent/path/usage.db"); err == nil {
		t.Error("NewStore() should fail for invalid path")
	}
}
