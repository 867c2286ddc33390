package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/ports"
)

// BudgetService manages per-user budget settings.
type BudgetService struct {
	budgets ports.BudgetStore
	clock   ports.Clock
	log     zerolog.Logger

	defaults budget.Defaults
	limits   budget.Limits
}

// BudgetDeps contains dependencies for BudgetService.
type BudgetDeps struct {
	Budgets ports.BudgetStore
	Clock   ports.Clock
	Logger  zerolog.Logger
}

// BudgetConfig contains configuration for BudgetService.
type BudgetConfig struct {
	Defaults budget.Defaults
	Limits   budget.Limits
}

// NewBudgetService creates a new budget service.
func NewBudgetService(deps BudgetDeps, cfg BudgetConfig) *BudgetService {
	return &BudgetService{
		budgets:  deps.Budgets,
		clock:    deps.Clock,
		log:      deps.Logger,
		defaults: cfg.Defaults,
		limits:   cfg.Limits,
	}
}

// Get returns the user's budget, creating it from defaults on first
// access.
func (s *BudgetService) Get(ctx context.Context, userID string) (budget.Budget, error) {
	def := budget.New(userID, s.defaults, s.clock.Now())
	b, err := s.budgets.GetOrCreate(ctx, userID, def)
	if err != nil {
		return budget.Budget{}, fmt.Errorf("load budget: %w", err)
	}
	return b, nil
}

// Update applies a partial settings change. Values outside the
// configured bounds reject the whole update. A concurrent settings
// change surfaces as ports.ErrConflict; the caller re-reads and
// retries.
func (s *BudgetService) Update(ctx context.Context, userID string, u budget.Update) (budget.Budget, error) {
	cur, err := s.Get(ctx, userID)
	if err != nil {
		return budget.Budget{}, err
	}

	next, err := budget.Apply(cur, u, s.limits, s.clock.Now())
	if err != nil {
		return budget.Budget{}, err
	}

	saved, err := s.budgets.Update(ctx, next, cur.UpdatedAt)
	if err != nil {
		return budget.Budget{}, fmt.Errorf("save budget: %w", err)
	}

	s.log.Info().Str("user_id", userID).
		Float64("daily", saved.DailyLimit).
		Float64("weekly", saved.WeeklyLimit).
		Float64("monthly", saved.MonthlyLimit).
		Msg("budget updated")
	return saved, nil
}
