package usage

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCost(t *testing.T) {
	tests := []struct {
		model   string
		in, out int64
		want    float64
	}{
		{"gpt-4o", 0, 0, 0},
		{"gpt-4o", 1000, 500, 0.0075},
		{"GPT-4O-2024-08-06", 1000, 500, 0.0075}, // case-insensitive substring
		{"gpt-4o-mini", 1000, 1000, 0.00075},     // more specific entry wins
		{"claude-sonnet-4-5", 1_000_000, 0, 3.0},
		{"mystery-model", 500_000, 500_000, 5.0}, // flat default $5/1M combined
		{"mystery-model", 1000, 0, 0.005},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d_%d", tt.model, tt.in, tt.out), func(t *testing.T) {
			got := Cost(tt.model, tt.in, tt.out)
			if !almostEqual(got, tt.want) {
				t.Errorf("Cost(%q, %d, %d) = %v, want %v", tt.model, tt.in, tt.out, got, tt.want)
			}
		})
	}
}

func TestTrackerBounded(t *testing.T) {
	tr := NewTracker(3)
	for i := 0; i < 5; i++ {
		tr.Track(Call{Provider: "openai", Model: "gpt-4o", SessionID: fmt.Sprintf("s%d", i), Success: true})
	}
	if got := tr.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3 (oldest discarded)", got)
	}

	// The survivors are the last three inserted.
	stats := tr.Stats(time.Time{}, time.Time{})
	if stats.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", stats.TotalCalls)
	}
}

func TestStatsAggregation(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(0)
	clock := base
	tr.now = func() time.Time { return clock }

	tr.Track(Call{Provider: "openai", Model: "gpt-4o", InputTokens: 1000, OutputTokens: 500, LatencyMS: 100, Success: true})
	clock = base.Add(time.Minute)
	tr.Track(Call{Provider: "openai", Model: "gpt-4o", InputTokens: 2000, OutputTokens: 1000, LatencyMS: 300, Success: false, ErrorCode: "GW-API-002"})
	clock = base.Add(2 * time.Minute)
	tr.Track(Call{Provider: "anthropic", Model: "claude-sonnet-4-5", InputTokens: 1_000_000, LatencyMS: 200, Success: true})

	stats := tr.Stats(time.Time{}, time.Time{})
	if stats.TotalCalls != 3 || stats.SuccessCalls != 2 || stats.FailedCalls != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", stats.TotalCalls, stats.SuccessCalls, stats.FailedCalls)
	}
	if stats.TotalTokens != 1500+3000+1_000_000 {
		t.Errorf("TotalTokens = %d", stats.TotalTokens)
	}
	if !almostEqual(stats.MeanLatencyMS, 200) {
		t.Errorf("MeanLatencyMS = %v, want 200", stats.MeanLatencyMS)
	}
	if !almostEqual(stats.TotalCost, 0.0075+0.015+3.0) {
		t.Errorf("TotalCost = %v", stats.TotalCost)
	}

	oa := stats.ByProvider["openai"]
	if oa.Calls != 2 || oa.Tokens != 4500 || !almostEqual(oa.MeanLatencyMS, 200) {
		t.Errorf("openai bucket = %+v", oa)
	}
	an := stats.ByProvider["anthropic"]
	if an.Calls != 1 || !almostEqual(an.Cost, 3.0) {
		t.Errorf("anthropic bucket = %+v", an)
	}

	// Inclusive range on both ends.
	ranged := tr.Stats(base.Add(time.Minute), base.Add(2*time.Minute))
	if ranged.TotalCalls != 2 {
		t.Errorf("ranged TotalCalls = %d, want 2 (inclusive bounds)", ranged.TotalCalls)
	}
}

func TestStatsEmpty(t *testing.T) {
	tr := NewTracker(0)
	stats := tr.Stats(time.Time{}, time.Time{})
	if stats.TotalCalls != 0 || stats.TotalCost != 0 || stats.MeanLatencyMS != 0 {
		t.Errorf("zero stats expected, got %+v", stats)
	}
	if stats.ByProvider == nil {
		t.Error("ByProvider map not initialized")
	}
}
