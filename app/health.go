package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/adapters/metrics"
	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/health"
	"github.com/plateful/spendgate/ports"
)

// healthProbeUser is the synthetic user exercised by the budget
// round-trip check. Kept stable so the check reuses one row.
const healthProbeUser = "health-probe"

// HealthService runs the ordered diagnostic checks and renders a
// report. Checks run in dependency order so the first failure points
// at the root cause.
type HealthService struct {
	store    ports.Pinger
	identity ports.Identity
	budgets  ports.BudgetStore
	clock    ports.Clock
	log      zerolog.Logger
	metrics  *metrics.Collector

	defaults budget.Defaults
	limits   budget.Limits
	pricing  map[string]float64
}

// HealthDeps contains dependencies for HealthService.
type HealthDeps struct {
	Store    ports.Pinger
	Identity ports.Identity
	Budgets  ports.BudgetStore
	Clock    ports.Clock
	Logger   zerolog.Logger
	Metrics  *metrics.Collector // optional
}

// HealthConfig contains configuration for HealthService.
type HealthConfig struct {
	Defaults budget.Defaults
	Limits   budget.Limits
	Pricing  map[string]float64 // option name -> cost in USD
}

// NewHealthService creates a new health service.
func NewHealthService(deps HealthDeps, cfg HealthConfig) *HealthService {
	return &HealthService{
		store:    deps.Store,
		identity: deps.Identity,
		budgets:  deps.Budgets,
		clock:    deps.Clock,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		defaults: cfg.Defaults,
		limits:   cfg.Limits,
		pricing:  cfg.Pricing,
	}
}

// Run executes all checks and returns the aggregate report.
func (s *HealthService) Run(ctx context.Context) health.Report {
	checks := []health.Check{
		s.checkStore(ctx),
		s.checkIdentity(ctx),
		s.checkBudgetRoundTrip(ctx),
		s.checkLimitValidation(),
		s.checkPricing(),
	}

	report := health.NewReport(checks, s.clock.Now())
	if s.metrics != nil {
		switch report.Status {
		case health.StatusHealthy:
			s.metrics.HealthStatus.Set(1)
		case health.StatusDegraded:
			s.metrics.HealthStatus.Set(0.5)
		default:
			s.metrics.HealthStatus.Set(0)
		}
		for _, c := range checks {
			if !c.OK {
				s.metrics.HealthCheckFails.WithLabelValues(c.Name).Inc()
			}
		}
	}
	return report
}

func (s *HealthService) checkStore(ctx context.Context) health.Check {
	start := time.Now()
	err := s.store.Ping(ctx)
	c := health.Check{
		Name:      "store",
		OK:        err == nil,
		Critical:  true,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.Message = fmt.Sprintf("store unreachable: %v", err)
	}
	return c
}

func (s *HealthService) checkIdentity(ctx context.Context) health.Check {
	start := time.Now()
	err := s.identity.Ping(ctx)
	c := health.Check{
		Name:      "identity",
		OK:        err == nil,
		Critical:  true,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.Message = fmt.Sprintf("identity backend unreachable: %v", err)
	}
	return c
}

// checkBudgetRoundTrip proves the budget path works end to end by
// reading the probe user's row, creating it on first run.
func (s *HealthService) checkBudgetRoundTrip(ctx context.Context) health.Check {
	start := time.Now()
	def := budget.New(healthProbeUser, s.defaults, s.clock.Now())
	b, err := s.budgets.GetOrCreate(ctx, healthProbeUser, def)
	c := health.Check{
		Name:      "budget_round_trip",
		OK:        err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.Message = fmt.Sprintf("budget read failed: %v", err)
		return c
	}
	if b.UserID != healthProbeUser {
		c.OK = false
		c.Message = fmt.Sprintf("budget row corrupt: user %q", b.UserID)
	}
	return c
}

// checkLimitValidation proves the bounds logic is active: a value past
// the upper bound must be rejected.
func (s *HealthService) checkLimitValidation() health.Check {
	bad := budget.Budget{
		DailyLimit:   s.limits.Daily.Max + 1,
		WeeklyLimit:  s.defaults.WeeklyLimit,
		MonthlyLimit: s.defaults.MonthlyLimit,
	}
	c := health.Check{Name: "limit_validation"}
	if err := budget.Validate(bad, s.limits); err == nil {
		c.Message = "out-of-range limit was accepted"
		return c
	}
	c.OK = true
	return c
}

func (s *HealthService) checkPricing() health.Check {
	c := health.Check{Name: "pricing"}
	if len(s.pricing) == 0 {
		c.Message = "no pricing configured"
		return c
	}
	for name, cost := range s.pricing {
		if cost <= 0 {
			c.Message = fmt.Sprintf("option %q has non-positive cost %.4f", name, cost)
			return c
		}
	}
	c.OK = true
	return c
}
