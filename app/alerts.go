package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/adapters/metrics"
	"github.com/plateful/spendgate/domain/alert"
	"github.com/plateful/spendgate/domain/quota"
	"github.com/plateful/spendgate/ports"
)

// AlertService derives and persists budget alerts. Evaluation is
// driven after spend lands, not on a timer, so alerts reflect the
// state the spend produced.
type AlertService struct {
	alerts  ports.AlertStore
	ledger  ports.LedgerStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	log     zerolog.Logger
	metrics *metrics.Collector

	quotas *QuotaService
}

// AlertDeps contains dependencies for AlertService.
type AlertDeps struct {
	Alerts  ports.AlertStore
	Quotas  *QuotaService
	Ledger  ports.LedgerStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// NewAlertService creates a new alert service.
func NewAlertService(deps AlertDeps) *AlertService {
	return &AlertService{
		alerts:  deps.Alerts,
		ledger:  deps.Ledger,
		clock:   deps.Clock,
		idGen:   deps.IDGen,
		log:     deps.Logger,
		metrics: deps.Metrics,
		quotas:  deps.Quotas,
	}
}

// Evaluate computes alert conditions for the user's settled spend and
// persists the ones without an unread duplicate. Returns the alerts
// created. Alert percentages use settled spend only; open holds do not
// page anyone.
func (s *AlertService) Evaluate(ctx context.Context, userID string) ([]alert.Alert, error) {
	now := s.clock.Now()

	b, err := s.quotas.loadBudget(ctx, userID)
	if err != nil {
		s.observeStoreError(err)
		return nil, fmt.Errorf("load budget: %w", err)
	}

	events, err := s.ledger.QueryByUserSince(ctx, userID, quota.WindowMonthly.Start(now))
	if err != nil {
		s.observeStoreError(err)
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	settled := events[:0:0]
	for _, e := range events {
		if e.Settled() {
			settled = append(settled, e)
		}
	}

	snap := quota.Usage(b, settled, now)
	var created []alert.Alert
	for _, c := range alert.Derive(b, snap) {
		dup, err := s.alerts.HasUnread(ctx, userID, c.Window, c.Type)
		if err != nil {
			s.observeStoreError(err)
			return created, fmt.Errorf("dedup check: %w", err)
		}
		if dup {
			if s.metrics != nil {
				s.metrics.AlertsSuppressed.Inc()
			}
			continue
		}

		a := alert.Alert{
			ID:            s.idGen.New(),
			UserID:        userID,
			Type:          c.Type,
			Window:        c.Window,
			CurrentAmount: c.CurrentAmount,
			LimitAmount:   c.LimitAmount,
			Percentage:    c.Percentage,
			Message:       c.Message,
			CreatedAt:     now,
		}
		if err := s.alerts.Create(ctx, a); err != nil {
			s.observeStoreError(err)
			return created, fmt.Errorf("create alert: %w", err)
		}
		created = append(created, a)

		s.log.Info().Str("user_id", userID).
			Str("window", string(c.Window)).
			Str("type", string(c.Type)).
			Float64("percent", c.Percentage).
			Msg("budget alert raised")
		if s.metrics != nil {
			s.metrics.AlertsEmitted.WithLabelValues(string(c.Window), string(c.Type)).Inc()
		}
	}
	return created, nil
}

// List returns the user's alerts, newest first.
func (s *AlertService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]alert.Alert, error) {
	return s.alerts.ListByUser(ctx, userID, unreadOnly, limit)
}

// MarkRead acknowledges an alert, re-arming its condition.
func (s *AlertService) MarkRead(ctx context.Context, id string) error {
	return s.alerts.MarkRead(ctx, id)
}

func (s *AlertService) observeStoreError(err error) {
	if s.metrics == nil || !errors.Is(err, ports.ErrStoreUnavailable) {
		return
	}
	s.metrics.StoreErrors.WithLabelValues("alerts").Inc()
}
