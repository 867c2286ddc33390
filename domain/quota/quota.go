// Package quota provides pure functions for budget window math and
// admission decisions. All functions are deterministic with no side effects.
package quota

import (
	"fmt"
	"time"

	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/ledger"
)

// WindowType identifies one of the three trailing budget windows.
type WindowType string

const (
	WindowDaily   WindowType = "daily"
	WindowWeekly  WindowType = "weekly"
	WindowMonthly WindowType = "monthly"
)

// WindowTypes lists the windows in tightest-first order.
var WindowTypes = []WindowType{WindowDaily, WindowWeekly, WindowMonthly}

// Span returns the trailing duration covered by the window.
func (w WindowType) Span() time.Duration {
	switch w {
	case WindowDaily:
		return 24 * time.Hour
	case WindowWeekly:
		return 7 * 24 * time.Hour
	case WindowMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Start returns the window's start instant relative to now.
func (w WindowType) Start(now time.Time) time.Time {
	return now.Add(-w.Span())
}

// Limit returns the budget limit for the window.
func (w WindowType) Limit(b budget.Budget) float64 {
	switch w {
	case WindowDaily:
		return b.DailyLimit
	case WindowWeekly:
		return b.WeeklyLimit
	case WindowMonthly:
		return b.MonthlyLimit
	default:
		return 0
	}
}

// WindowUsage is the derived usage for a single window (value type).
type WindowUsage struct {
	Window    WindowType
	Used      float64
	Limit     float64
	Remaining float64
	Percent   float64
}

// Snapshot holds usage for all three windows at one instant.
type Snapshot struct {
	Daily   WindowUsage
	Weekly  WindowUsage
	Monthly WindowUsage
	At      time.Time
}

// Window returns the usage for the given window type.
func (s Snapshot) Window(w WindowType) WindowUsage {
	switch w {
	case WindowDaily:
		return s.Daily
	case WindowWeekly:
		return s.Weekly
	case WindowMonthly:
		return s.Monthly
	default:
		return WindowUsage{}
	}
}

// usageFor sums event cost inside one trailing window.
func usageFor(w WindowType, b budget.Budget, events []ledger.CostEvent, now time.Time) WindowUsage {
	start := w.Start(now)
	var used float64
	for _, e := range events {
		if e.CreatedAt.Before(start) || e.CreatedAt.After(now) {
			continue
		}
		used += e.Cost
	}
	limit := w.Limit(b)
	u := WindowUsage{
		Window:    w,
		Used:      used,
		Limit:     limit,
		Remaining: limit - used,
	}
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	if limit > 0 {
		u.Percent = used / limit * 100
	}
	return u
}

// Usage computes the three-window snapshot from the given events.
// Callers pre-filter events to those that should count (settled spend for
// reporting, settled plus live pending holds for admission). Because the
// daily window is a subset of the weekly, which is a subset of the monthly,
// used_daily <= used_weekly <= used_monthly always holds for a fixed set
// of events.
func Usage(b budget.Budget, events []ledger.CostEvent, now time.Time) Snapshot {
	return Snapshot{
		Daily:   usageFor(WindowDaily, b, events, now),
		Weekly:  usageFor(WindowWeekly, b, events, now),
		Monthly: usageFor(WindowMonthly, b, events, now),
		At:      now,
	}
}

// Denial reasons carried on decisions. ReasonQuotaUnknown is the synthetic
// fail-closed reason used when usage cannot be proven sufficient.
const (
	ReasonPaused       = "paused"
	ReasonInsufficient = "insufficient"
	ReasonQuotaUnknown = "quota_unknown"
)

// Decision is the outcome of an admission check (value type).
type Decision struct {
	Allowed bool
	Reason  string     // machine-readable: paused | insufficient | quota_unknown
	Window  WindowType // binding window for denials, empty otherwise
	Message string     // user-facing reason naming window and remaining amount
}

// Unknown returns the fail-closed decision used when the ledger or budget
// store cannot be read. Never allowed.
func Unknown() Decision {
	return Decision{
		Allowed: false,
		Reason:  ReasonQuotaUnknown,
		Message: "quota state unavailable, request denied",
	}
}

// IsPaused reports whether the account is paused: pause-at-limit is set and
// any window's usage has reached its limit.
func IsPaused(b budget.Budget, s Snapshot) (bool, WindowType) {
	if !b.PauseAtLimit {
		return false, ""
	}
	for _, w := range WindowTypes {
		u := s.Window(w)
		if u.Limit > 0 && u.Used >= u.Limit {
			return true, w
		}
	}
	return false, ""
}

// Evaluate renders the admission decision for spending amount against the
// snapshot. The pause check runs before the fit check: a paused account
// rejects every request regardless of size.
func Evaluate(b budget.Budget, s Snapshot, amount float64) Decision {
	if paused, w := IsPaused(b, s); paused {
		return Decision{
			Allowed: false,
			Reason:  ReasonPaused,
			Window:  w,
			Message: fmt.Sprintf("paused: %s limit reached", w),
		}
	}

	// Deny on the tightest window that cannot fit the amount.
	for _, w := range WindowTypes {
		u := s.Window(w)
		if u.Limit <= 0 {
			continue
		}
		if amount > u.Remaining {
			return Decision{
				Allowed: false,
				Reason:  ReasonInsufficient,
				Window:  w,
				Message: fmt.Sprintf("%s budget exceeded: $%.2f remaining of $%.2f", w, u.Remaining, u.Limit),
			}
		}
	}

	return Decision{Allowed: true}
}
