// Package memory provides in-memory implementations of storage ports.
// Used for tests and ephemeral single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/ports"
)

// BudgetStore implements ports.BudgetStore with a map.
type BudgetStore struct {
	mu      sync.Mutex
	budgets map[string]budget.Budget

	// FailWith, when set, makes every call fail. Lets tests exercise
	// the engine's fail-closed paths.
	FailWith error
}

// NewBudgetStore creates an empty in-memory budget store.
func NewBudgetStore() *BudgetStore {
	return &BudgetStore{budgets: make(map[string]budget.Budget)}
}

// GetOrCreate returns the user's budget, inserting def when absent.
// The single store mutex makes first access race-safe.
func (s *BudgetStore) GetOrCreate(ctx context.Context, userID string, def budget.Budget) (budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return budget.Budget{}, s.FailWith
	}

	if b, ok := s.budgets[userID]; ok {
		return b, nil
	}
	def.UserID = userID
	s.budgets[userID] = def
	return def, nil
}

// Update persists b under optimistic concurrency on UpdatedAt.
func (s *BudgetStore) Update(ctx context.Context, b budget.Budget, prevUpdatedAt time.Time) (budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return budget.Budget{}, s.FailWith
	}

	cur, ok := s.budgets[b.UserID]
	if !ok {
		return budget.Budget{}, ports.ErrNotFound
	}
	if !cur.UpdatedAt.Equal(prevUpdatedAt) {
		return budget.Budget{}, ports.ErrConflict
	}
	s.budgets[b.UserID] = b
	return b, nil
}

// Ensure interface compliance.
var _ ports.BudgetStore = (*BudgetStore)(nil)
