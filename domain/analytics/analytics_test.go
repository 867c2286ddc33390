package analytics

import (
	"testing"
	"time"

	"github.com/plateful/spendgate/domain/ledger"
)

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
)

func event(cost float64, success bool, at time.Time, genMs int64, dims map[string]string) ledger.CostEvent {
	return ledger.CostEvent{
		UserID:           "user-1",
		Cost:             cost,
		Success:          success,
		GenerationTimeMs: genMs,
		Dimensions:       dims,
		Status:           ledger.StatusCommitted,
		CreatedAt:        at,
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize("user-1", nil, periodStart, periodEnd)

	if s.Count != 0 || s.TotalCost != 0 {
		t.Errorf("expected empty summary, got count=%d cost=%v", s.Count, s.TotalCost)
	}
	if s.SuccessRate != 0 {
		t.Errorf("expected SuccessRate=0, got %v", s.SuccessRate)
	}
	if s.Trend != TrendStable {
		t.Errorf("expected stable trend, got %s", s.Trend)
	}
	if s.HasPeakHour {
		t.Error("expected no peak hour for empty period")
	}
}

func TestSummarize_Totals(t *testing.T) {
	events := []ledger.CostEvent{
		event(0.04, true, periodStart.Add(24*time.Hour), 2000, map[string]string{"size": "1024x1024"}),
		event(0.08, true, periodStart.Add(48*time.Hour), 4000, map[string]string{"size": "1792x1024"}),
		event(0, false, periodStart.Add(72*time.Hour), 0, nil),
		event(0.04, true, periodStart.Add(96*time.Hour), 3000, map[string]string{"size": "1024x1024"}),
	}
	s := Summarize("user-1", events, periodStart, periodEnd)

	if s.Count != 4 {
		t.Errorf("expected Count=4, got %d", s.Count)
	}
	if got := s.TotalCost; got < 0.159 || got > 0.161 {
		t.Errorf("expected TotalCost=0.16, got %v", got)
	}
	if s.SuccessRate != 0.75 {
		t.Errorf("expected SuccessRate=0.75, got %v", s.SuccessRate)
	}
	if s.AvgGenTimeMs != 3000 {
		t.Errorf("expected AvgGenTimeMs=3000, got %d", s.AvgGenTimeMs)
	}
	if s.TopDimensions["size"] != "1024x1024" {
		t.Errorf("expected top size=1024x1024, got %q", s.TopDimensions["size"])
	}
}

func TestSummarize_SkipsPendingAndOutOfPeriod(t *testing.T) {
	events := []ledger.CostEvent{
		event(0.04, true, periodStart.Add(time.Hour), 0, nil),
		{UserID: "user-1", Cost: 1.00, Status: ledger.StatusPending, CreatedAt: periodStart.Add(time.Hour)},
		{UserID: "user-1", Cost: 1.00, Status: ledger.StatusReleased, CreatedAt: periodStart.Add(time.Hour)},
		event(0.04, true, periodStart.Add(-time.Hour), 0, nil), // before period
		event(0.04, true, periodEnd, 0, nil),                   // at end, exclusive
	}
	s := Summarize("user-1", events, periodStart, periodEnd)

	if s.Count != 1 {
		t.Errorf("expected Count=1, got %d", s.Count)
	}
	if got := s.TotalCost; got < 0.039 || got > 0.041 {
		t.Errorf("expected TotalCost=0.04, got %v", got)
	}
}

func TestSummarize_TrendIncreasing(t *testing.T) {
	// $0.10 in the first half, $0.50 in the second.
	events := []ledger.CostEvent{
		event(0.10, true, periodStart.Add(24*time.Hour), 0, nil),
		event(0.50, true, periodEnd.Add(-24*time.Hour), 0, nil),
	}
	s := Summarize("user-1", events, periodStart, periodEnd)

	if s.Trend != TrendIncreasing {
		t.Errorf("expected increasing, got %s", s.Trend)
	}
}

func TestSummarize_TrendDecreasing(t *testing.T) {
	events := []ledger.CostEvent{
		event(0.50, true, periodStart.Add(24*time.Hour), 0, nil),
		event(0.10, true, periodEnd.Add(-24*time.Hour), 0, nil),
	}
	s := Summarize("user-1", events, periodStart, periodEnd)

	if s.Trend != TrendDecreasing {
		t.Errorf("expected decreasing, got %s", s.Trend)
	}
}

func TestSummarize_TrendStableWithinBand(t *testing.T) {
	// Second half within the 0.9x-1.1x band of the first half.
	events := []ledger.CostEvent{
		event(0.50, true, periodStart.Add(24*time.Hour), 0, nil),
		event(0.52, true, periodEnd.Add(-24*time.Hour), 0, nil),
	}
	s := Summarize("user-1", events, periodStart, periodEnd)

	if s.Trend != TrendStable {
		t.Errorf("expected stable, got %s", s.Trend)
	}
}

func TestSummarize_PeakHour(t *testing.T) {
	at := func(day, hour int) time.Time {
		return time.Date(2026, 3, day, hour, 30, 0, 0, time.UTC)
	}
	events := []ledger.CostEvent{
		event(0.04, true, at(2, 9), 0, nil),
		event(0.04, true, at(3, 18), 0, nil),
		event(0.04, true, at(4, 18), 0, nil),
		event(0.04, true, at(5, 18), 0, nil),
		event(0.04, true, at(6, 9), 0, nil),
	}
	s := Summarize("user-1", events, periodStart, periodEnd)

	if !s.HasPeakHour {
		t.Fatal("expected a peak hour")
	}
	if s.PeakHour != 18 {
		t.Errorf("expected PeakHour=18, got %d", s.PeakHour)
	}
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name          string
		first, second float64
		want          Trend
	}{
		{"both zero", 0, 0, TrendStable},
		{"from zero", 0, 1, TrendIncreasing},
		{"exactly 1.1x", 1, 1.1, TrendStable},
		{"just over 1.1x", 1, 1.11, TrendIncreasing},
		{"exactly 0.9x", 1, 0.9, TrendStable},
		{"just under 0.9x", 1, 0.89, TrendDecreasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trendOf(tt.first, tt.second); got != tt.want {
				t.Errorf("trendOf(%v, %v)=%s, want %s", tt.first, tt.second, got, tt.want)
			}
		})
	}
}
