// Package ledger provides the append-only cost event types.
// Events are the single source of truth for all usage aggregates;
// once finalized, an event is never modified; corrections are new events.
package ledger

import "time"

// Status tracks an event through the reservation protocol.
// Pending rows are provisional holds; Committed and Released are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusReleased  Status = "released"
)

// CostEvent represents a single metered spend event (value type).
type CostEvent struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	ResourceID       string            `json:"resource_id,omitempty"` // e.g. recipe id, optional
	Dimensions       map[string]string `json:"dimensions,omitempty"`  // reporting tags: size, quality, ...
	Cost             float64           `json:"cost"`                  // USD actually charged; zero for failed attempts
	Success          bool              `json:"success"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	GenerationTimeMs int64             `json:"generation_time_ms,omitempty"`
	Status           Status            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Countable reports whether the event contributes to window usage for
// admission decisions. Committed successful spend always counts; a pending
// reservation counts until it expires so that concurrent requests cannot
// jointly overspend between reserve and commit.
func (e CostEvent) Countable(now time.Time, pendingTTL time.Duration) bool {
	switch e.Status {
	case StatusCommitted:
		return e.Success
	case StatusPending:
		return now.Sub(e.CreatedAt) <= pendingTTL
	default:
		return false
	}
}

// Settled reports whether the event is a finalized successful charge.
// Only settled events feed reporting aggregates and alert percentages.
func (e CostEvent) Settled() bool {
	return e.Status == StatusCommitted && e.Success
}

// NewCommitted creates a finalized event, bypassing the reservation
// protocol. Used for direct records of already-performed work.
func NewCommitted(id, userID, resourceID string, cost float64, success bool, errMsg string, genTimeMs int64, dims map[string]string, at time.Time) CostEvent {
	return CostEvent{
		ID:               id,
		UserID:           userID,
		ResourceID:       resourceID,
		Dimensions:       dims,
		Cost:             cost,
		Success:          success,
		ErrorMessage:     errMsg,
		GenerationTimeMs: genTimeMs,
		Status:           StatusCommitted,
		CreatedAt:        at,
	}
}

// NewPending creates a provisional hold for a reservation. The cost is the
// reserved amount; commit replaces it with the actual charge.
func NewPending(id, userID, resourceID string, amount float64, at time.Time) CostEvent {
	return CostEvent{
		ID:         id,
		UserID:     userID,
		ResourceID: resourceID,
		Cost:       amount,
		Status:     StatusPending,
		CreatedAt:  at,
	}
}
