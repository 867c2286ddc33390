package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/plateful/spendgate/domain/ledger"
	"github.com/plateful/spendgate/ports"
)

// LedgerStore implements ports.LedgerStore with an append-only slice per user.
type LedgerStore struct {
	mu     sync.Mutex
	events map[string]ledger.CostEvent // id -> event
	byUser map[string][]string         // userID -> ids in append order

	// FailWith, when set, makes every call fail.
	FailWith error
}

// NewLedgerStore creates an empty in-memory ledger.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		events: make(map[string]ledger.CostEvent),
		byUser: make(map[string][]string),
	}
}

// Append stores a new event and returns its id.
func (s *LedgerStore) Append(ctx context.Context, e ledger.CostEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return "", s.FailWith
	}

	s.events[e.ID] = copyEvent(e)
	s.byUser[e.UserID] = append(s.byUser[e.UserID], e.ID)
	return e.ID, nil
}

// QueryByUserSince returns events at or after since, created_at ascending.
func (s *LedgerStore) QueryByUserSince(ctx context.Context, userID string, since time.Time) ([]ledger.CostEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return nil, s.FailWith
	}

	var out []ledger.CostEvent
	for _, id := range s.byUser[userID] {
		e := s.events[id]
		if e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Finalize commits a pending event with its actual outcome.
func (s *LedgerStore) Finalize(ctx context.Context, id string, cost float64, success bool, errorMessage string, generationTimeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	e, ok := s.events[id]
	if !ok || e.Status != ledger.StatusPending {
		return ports.ErrNotFound
	}
	e.Status = ledger.StatusCommitted
	e.Cost = cost
	e.Success = success
	e.ErrorMessage = errorMessage
	e.GenerationTimeMs = generationTimeMs
	s.events[id] = e
	return nil
}

// Release rolls back a pending event.
func (s *LedgerStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	e, ok := s.events[id]
	if !ok || e.Status != ledger.StatusPending {
		return ports.ErrNotFound
	}
	e.Status = ledger.StatusReleased
	e.Cost = 0
	s.events[id] = e
	return nil
}

// ReleaseExpired releases pending events created before cutoff.
func (s *LedgerStore) ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return 0, s.FailWith
	}

	var n int64
	for id, e := range s.events {
		if e.Status == ledger.StatusPending && e.CreatedAt.Before(cutoff) {
			e.Status = ledger.StatusReleased
			e.Cost = 0
			s.events[id] = e
			n++
		}
	}
	return n, nil
}

// GetEvent retrieves a single event by id.
func (s *LedgerStore) GetEvent(ctx context.Context, id string) (ledger.CostEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return ledger.CostEvent{}, s.FailWith
	}

	e, ok := s.events[id]
	if !ok {
		return ledger.CostEvent{}, ports.ErrNotFound
	}
	return copyEvent(e), nil
}

// copyEvent deep-copies the dimensions map so callers cannot mutate
// stored events through the returned value.
func copyEvent(e ledger.CostEvent) ledger.CostEvent {
	if e.Dimensions != nil {
		dims := make(map[string]string, len(e.Dimensions))
		for k, v := range e.Dimensions {
			dims[k] = v
		}
		e.Dimensions = dims
	}
	return e
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
