package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/ports"
)

// BudgetStore persists per-user budgets in SQLite.
type BudgetStore struct {
	db *DB
}

// NewBudgetStore creates a new BudgetStore.
func NewBudgetStore(db *DB) *BudgetStore {
	return &BudgetStore{db: db}
}

// GetOrCreate returns the budget for userID, inserting def when no row
// exists. The conditional insert makes concurrent first calls converge
// on a single row.
func (s *BudgetStore) GetOrCreate(ctx context.Context, userID string, def budget.Budget) (budget.Budget, error) {
	def.UserID = userID
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (user_id, daily_limit, weekly_limit, monthly_limit, alert_threshold, auto_pause, pause_at_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		def.UserID, def.DailyLimit, def.WeeklyLimit, def.MonthlyLimit,
		def.AlertThreshold, def.AutoPause, def.PauseAtLimit,
		def.CreatedAt.UTC(), def.UpdatedAt.UTC())
	if err != nil {
		return budget.Budget{}, storeErr("insert budget", err)
	}
	return s.get(ctx, userID)
}

func (s *BudgetStore) get(ctx context.Context, userID string) (budget.Budget, error) {
	var b budget.Budget
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, daily_limit, weekly_limit, monthly_limit, alert_threshold, auto_pause, pause_at_limit, created_at, updated_at
		FROM budgets WHERE user_id = ?`, userID,
	).Scan(&b.UserID, &b.DailyLimit, &b.WeeklyLimit, &b.MonthlyLimit,
		&b.AlertThreshold, &b.AutoPause, &b.PauseAtLimit, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return budget.Budget{}, storeErr("select budget", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

// Update writes b only when the stored row still carries prevUpdatedAt.
// A concurrent writer makes the predicate miss and the call returns
// ErrConflict.
func (s *BudgetStore) Update(ctx context.Context, b budget.Budget, prevUpdatedAt time.Time) (budget.Budget, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE budgets
		SET daily_limit = ?, weekly_limit = ?, monthly_limit = ?, alert_threshold = ?, auto_pause = ?, pause_at_limit = ?, updated_at = ?
		WHERE user_id = ? AND updated_at = ?`,
		b.DailyLimit, b.WeeklyLimit, b.MonthlyLimit, b.AlertThreshold,
		b.AutoPause, b.PauseAtLimit, b.UpdatedAt.UTC(),
		b.UserID, prevUpdatedAt.UTC())
	if err != nil {
		return budget.Budget{}, storeErr("update budget", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return budget.Budget{}, storeErr("update budget", err)
	}
	if n == 0 {
		if _, err := s.get(ctx, b.UserID); err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return budget.Budget{}, ports.ErrNotFound
			}
			return budget.Budget{}, err
		}
		return budget.Budget{}, ports.ErrConflict
	}
	return s.get(ctx, b.UserID)
}

var _ ports.BudgetStore = (*BudgetStore)(nil)
