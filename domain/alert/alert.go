// Package alert provides budget alert types and pure derivation functions.
package alert

import (
	"fmt"
	"time"

	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/quota"
)

// Type classifies an alert condition.
type Type string

const (
	TypeThreshold     Type = "threshold"      // usage crossed the configured percentage
	TypeLimitReached  Type = "limit_reached"  // usage hit the limit exactly
	TypeLimitExceeded Type = "limit_exceeded" // usage passed the limit
)

// Alert is a persisted per-user budget notification. Alerts are created
// when a (user, window, type) condition newly becomes true, mutated only
// to flip IsRead, and never deleted (audit trail).
type Alert struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Type          Type             `json:"type"`
	Window        quota.WindowType `json:"window"`
	CurrentAmount float64          `json:"current_amount"`
	LimitAmount   float64          `json:"limit_amount"`
	Percentage    float64          `json:"percentage"`
	Message       string           `json:"message"`
	IsRead        bool             `json:"is_read"`
	CreatedAt     time.Time        `json:"created_at"`
}

// DedupKey identifies the condition an alert reports. At most one unread
// alert per key should exist at a time.
func (a Alert) DedupKey() string {
	return string(a.Window) + "/" + string(a.Type)
}

// Candidate is a derived alert condition before persistence.
type Candidate struct {
	Type          Type
	Window        quota.WindowType
	CurrentAmount float64
	LimitAmount   float64
	Percentage    float64
	Message       string
}

// DedupKey matches Alert.DedupKey for the same condition.
func (c Candidate) DedupKey() string {
	return string(c.Window) + "/" + string(c.Type)
}

// Derive computes the alert conditions currently true for the snapshot.
// This is a PURE function: persistence and unread de-duplication are the
// caller's concern. A window with no positive limit produces nothing.
func Derive(b budget.Budget, s quota.Snapshot) []Candidate {
	var out []Candidate
	for _, w := range quota.WindowTypes {
		u := s.Window(w)
		if u.Limit <= 0 {
			continue
		}
		switch {
		case u.Percent > 100:
			out = append(out, Candidate{
				Type:          TypeLimitExceeded,
				Window:        w,
				CurrentAmount: u.Used,
				LimitAmount:   u.Limit,
				Percentage:    u.Percent,
				Message:       fmt.Sprintf("%s budget exceeded: $%.2f spent of $%.2f limit", w, u.Used, u.Limit),
			})
		case u.Percent >= 100:
			out = append(out, Candidate{
				Type:          TypeLimitReached,
				Window:        w,
				CurrentAmount: u.Used,
				LimitAmount:   u.Limit,
				Percentage:    u.Percent,
				Message:       fmt.Sprintf("%s budget limit reached: $%.2f spent of $%.2f limit", w, u.Used, u.Limit),
			})
		case b.AlertThreshold > 0 && u.Percent >= b.AlertThreshold:
			out = append(out, Candidate{
				Type:          TypeThreshold,
				Window:        w,
				CurrentAmount: u.Used,
				LimitAmount:   u.Limit,
				Percentage:    u.Percent,
				Message:       fmt.Sprintf("%s budget at %.0f%%: $%.2f spent of $%.2f limit", w, u.Percent, u.Used, u.Limit),
			})
		}
	}
	return out
}
