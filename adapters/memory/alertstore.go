package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/plateful/spendgate/domain/alert"
	"github.com/plateful/spendgate/domain/quota"
	"github.com/plateful/spendgate/ports"
)

// AlertStore implements ports.AlertStore with a map.
type AlertStore struct {
	mu     sync.Mutex
	alerts map[string]alert.Alert
	byUser map[string][]string

	// FailWith, when set, makes every call fail.
	FailWith error
}

// NewAlertStore creates an empty in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{
		alerts: make(map[string]alert.Alert),
		byUser: make(map[string][]string),
	}
}

// Create stores a new alert.
func (s *AlertStore) Create(ctx context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	s.alerts[a.ID] = a
	s.byUser[a.UserID] = append(s.byUser[a.UserID], a.ID)
	return nil
}

// ListByUser returns the user's alerts, newest first.
func (s *AlertStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return nil, s.FailWith
	}

	var out []alert.Alert
	for _, id := range s.byUser[userID] {
		a := s.alerts[id]
		if unreadOnly && a.IsRead {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HasUnread reports whether an unread alert exists for the condition.
func (s *AlertStore) HasUnread(ctx context.Context, userID string, w quota.WindowType, t alert.Type) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return false, s.FailWith
	}

	for _, id := range s.byUser[userID] {
		a := s.alerts[id]
		if !a.IsRead && a.Window == w && a.Type == t {
			return true, nil
		}
	}
	return false, nil
}

// MarkRead flips is_read. Idempotent.
func (s *AlertStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	a, ok := s.alerts[id]
	if !ok {
		return ports.ErrNotFound
	}
	a.IsRead = true
	s.alerts[id] = a
	return nil
}

// Ensure interface compliance.
var _ ports.AlertStore = (*AlertStore)(nil)
