// Package analytics provides pure aggregation functions over ledger events.
// Summarize is a pure function of its inputs: no side effects, safe to call
// repeatedly and concurrently.
package analytics

import (
	"sort"
	"time"

	"github.com/plateful/spendgate/domain/ledger"
)

// Trend describes how spend moved across the period.
type Trend string

const (
	TrendIncreasing Trend = "increasing" // second half > 1.1x first half
	TrendDecreasing Trend = "decreasing" // second half < 0.9x first half
	TrendStable     Trend = "stable"
)

// CostSummary aggregates a user's ledger activity over a period.
type CostSummary struct {
	UserID        string            `json:"user_id"`
	PeriodStart   time.Time         `json:"period_start"`
	PeriodEnd     time.Time         `json:"period_end"`
	TotalCost     float64           `json:"total_cost"`
	Count         int               `json:"count"`
	SuccessRate   float64           `json:"success_rate"`    // 0-1 over finalized events
	AvgGenTimeMs  int64             `json:"avg_gen_time_ms"` // over events that reported a generation time
	Trend         Trend             `json:"trend"`
	PeakHour      int               `json:"peak_hour"`     // hour-of-day mode across events, UTC
	HasPeakHour   bool              `json:"has_peak_hour"` // false when the period had no events
	TopDimensions map[string]string `json:"top_dimensions"`
}

// Summarize aggregates the finalized events falling inside [start, end).
// Pending and released rows are skipped: only settled history is reported.
func Summarize(userID string, events []ledger.CostEvent, start, end time.Time) CostSummary {
	s := CostSummary{
		UserID:        userID,
		PeriodStart:   start,
		PeriodEnd:     end,
		Trend:         TrendStable,
		TopDimensions: map[string]string{},
	}

	mid := start.Add(end.Sub(start) / 2)
	var firstHalf, secondHalf float64
	var successes int
	var genTimeTotal, genTimeCount int64
	hourCounts := map[int]int{}
	dimCounts := map[string]map[string]int{}

	for _, e := range events {
		if e.Status != ledger.StatusCommitted {
			continue
		}
		if e.CreatedAt.Before(start) || !e.CreatedAt.Before(end) {
			continue
		}

		s.Count++
		if e.Success {
			successes++
			s.TotalCost += e.Cost
			if e.CreatedAt.Before(mid) {
				firstHalf += e.Cost
			} else {
				secondHalf += e.Cost
			}
		}
		if e.GenerationTimeMs > 0 {
			genTimeTotal += e.GenerationTimeMs
			genTimeCount++
		}
		hourCounts[e.CreatedAt.UTC().Hour()]++
		for k, v := range e.Dimensions {
			if dimCounts[k] == nil {
				dimCounts[k] = map[string]int{}
			}
			dimCounts[k][v]++
		}
	}

	if s.Count > 0 {
		s.SuccessRate = float64(successes) / float64(s.Count)
	}
	if genTimeCount > 0 {
		s.AvgGenTimeMs = genTimeTotal / genTimeCount
	}

	s.Trend = trendOf(firstHalf, secondHalf)
	s.PeakHour, s.HasPeakHour = modeHour(hourCounts)

	for k, counts := range dimCounts {
		s.TopDimensions[k] = modeValue(counts)
	}

	return s
}

// trendOf compares the two halves of the period.
func trendOf(first, second float64) Trend {
	if first == 0 {
		if second > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	switch {
	case second > first*1.1:
		return TrendIncreasing
	case second < first*0.9:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// modeHour returns the most frequent hour. Ties resolve to the earliest
// hour so the result is deterministic.
func modeHour(counts map[int]int) (int, bool) {
	if len(counts) == 0 {
		return 0, false
	}
	best, bestCount := 0, -1
	for h := 0; h < 24; h++ {
		if c := counts[h]; c > bestCount {
			best, bestCount = h, c
		}
	}
	return best, true
}

// modeValue returns the most frequent value, ties resolved lexicographically.
func modeValue(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestCount := "", -1
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}
