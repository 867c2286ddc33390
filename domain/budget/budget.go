// Package budget provides the per-user budget value type and pure
// validation functions. All functions are deterministic with no side effects.
package budget

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidValue indicates a budget limit outside the configured bounds.
var ErrInvalidValue = errors.New("budget value out of range")

// Budget represents a user's spend limits (value type).
// Usage is never stored here; it is always derived from the ledger.
type Budget struct {
	UserID         string
	DailyLimit     float64 // USD
	WeeklyLimit    float64 // USD
	MonthlyLimit   float64 // USD
	AlertThreshold float64 // percentage, 0-100
	AutoPause      bool    // pause evaluation enabled at all
	PauseAtLimit   bool    // hard-stop every request once any window is exhausted
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Bounds is the allowed [min, max] range for a single limit.
type Bounds struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the bounds (inclusive).
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Limits holds the configured bounds for each window limit.
type Limits struct {
	Daily   Bounds
	Weekly  Bounds
	Monthly Bounds
}

// Defaults holds the system defaults applied on lazy budget creation.
type Defaults struct {
	DailyLimit     float64
	WeeklyLimit    float64
	MonthlyLimit   float64
	AlertThreshold float64
	AutoPause      bool
	PauseAtLimit   bool
}

// New creates a budget for a user from system defaults.
func New(userID string, d Defaults, now time.Time) Budget {
	return Budget{
		UserID:         userID,
		DailyLimit:     d.DailyLimit,
		WeeklyLimit:    d.WeeklyLimit,
		MonthlyLimit:   d.MonthlyLimit,
		AlertThreshold: d.AlertThreshold,
		AutoPause:      d.AutoPause,
		PauseAtLimit:   d.PauseAtLimit,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Update is a partial budget mutation. Nil fields are left unchanged.
// Weekly and monthly limits are user-settable independently; they are
// not required to be multiples of the daily limit.
type Update struct {
	DailyLimit     *float64
	WeeklyLimit    *float64
	MonthlyLimit   *float64
	AlertThreshold *float64
	AutoPause      *bool
	PauseAtLimit   *bool
}

// Apply validates the update against the configured bounds and returns
// the updated budget. Each supplied limit must lie within its [min, max]
// range; violations return an error wrapping ErrInvalidValue.
func Apply(b Budget, u Update, lim Limits, now time.Time) (Budget, error) {
	if u.DailyLimit != nil {
		if !lim.Daily.Contains(*u.DailyLimit) {
			return Budget{}, fmt.Errorf("daily limit %.2f not in [%.2f, %.2f]: %w",
				*u.DailyLimit, lim.Daily.Min, lim.Daily.Max, ErrInvalidValue)
		}
		b.DailyLimit = *u.DailyLimit
	}
	if u.WeeklyLimit != nil {
		if !lim.Weekly.Contains(*u.WeeklyLimit) {
			return Budget{}, fmt.Errorf("weekly limit %.2f not in [%.2f, %.2f]: %w",
				*u.WeeklyLimit, lim.Weekly.Min, lim.Weekly.Max, ErrInvalidValue)
		}
		b.WeeklyLimit = *u.WeeklyLimit
	}
	if u.MonthlyLimit != nil {
		if !lim.Monthly.Contains(*u.MonthlyLimit) {
			return Budget{}, fmt.Errorf("monthly limit %.2f not in [%.2f, %.2f]: %w",
				*u.MonthlyLimit, lim.Monthly.Min, lim.Monthly.Max, ErrInvalidValue)
		}
		b.MonthlyLimit = *u.MonthlyLimit
	}
	if u.AlertThreshold != nil {
		if *u.AlertThreshold < 0 || *u.AlertThreshold > 100 {
			return Budget{}, fmt.Errorf("alert threshold %.1f not in [0, 100]: %w",
				*u.AlertThreshold, ErrInvalidValue)
		}
		b.AlertThreshold = *u.AlertThreshold
	}
	if u.AutoPause != nil {
		b.AutoPause = *u.AutoPause
	}
	if u.PauseAtLimit != nil {
		b.PauseAtLimit = *u.PauseAtLimit
	}
	b.UpdatedAt = now
	return b, nil
}

// Validate checks a full budget against the configured bounds.
// Used by the health monitor to exercise validation with synthetic values.
func Validate(b Budget, lim Limits) error {
	if !lim.Daily.Contains(b.DailyLimit) {
		return fmt.Errorf("daily limit %.2f not in [%.2f, %.2f]: %w",
			b.DailyLimit, lim.Daily.Min, lim.Daily.Max, ErrInvalidValue)
	}
	if !lim.Weekly.Contains(b.WeeklyLimit) {
		return fmt.Errorf("weekly limit %.2f not in [%.2f, %.2f]: %w",
			b.WeeklyLimit, lim.Weekly.Min, lim.Weekly.Max, ErrInvalidValue)
	}
	if !lim.Monthly.Contains(b.MonthlyLimit) {
		return fmt.Errorf("monthly limit %.2f not in [%.2f, %.2f]: %w",
			b.MonthlyLimit, lim.Monthly.Min, lim.Monthly.Max, ErrInvalidValue)
	}
	if b.AlertThreshold < 0 || b.AlertThreshold > 100 {
		return fmt.Errorf("alert threshold %.1f not in [0, 100]: %w",
			b.AlertThreshold, ErrInvalidValue)
	}
	return nil
}
