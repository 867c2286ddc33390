package app

import (
	"context"
	"fmt"
	"time"

	"github.com/plateful/spendgate/domain/analytics"
	"github.com/plateful/spendgate/domain/ledger"
	"github.com/plateful/spendgate/ports"
)

// AnalyticsService produces spend summaries from the ledger.
type AnalyticsService struct {
	ledger ports.LedgerStore
	clock  ports.Clock
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(l ports.LedgerStore, c ports.Clock) *AnalyticsService {
	return &AnalyticsService{ledger: l, clock: c}
}

// Summary aggregates the user's committed spend over the trailing
// period of the given number of days.
func (s *AnalyticsService) Summary(ctx context.Context, userID string, days int) (analytics.CostSummary, error) {
	if days <= 0 {
		days = 30
	}
	end := s.clock.Now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	events, err := s.ledger.QueryByUserSince(ctx, userID, start)
	if err != nil {
		return analytics.CostSummary{}, fmt.Errorf("load ledger: %w", err)
	}
	return analytics.Summarize(userID, events, start, end), nil
}

// Recent returns the user's latest committed events, newest first,
// capped at limit.
func (s *AnalyticsService) Recent(ctx context.Context, userID string, limit int) ([]ledger.CostEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	events, err := s.ledger.QueryByUserSince(ctx, userID, s.clock.Now().Add(-30*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	var out []ledger.CostEvent
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if events[i].Status == ledger.StatusCommitted {
			out = append(out, events[i])
		}
	}
	return out, nil
}
