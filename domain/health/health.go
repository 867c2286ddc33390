// Package health provides health check types and pure status derivation.
package health

import "time"

// Status is the overall subsystem health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Severity classifies a systemic alert raised by the watchdog.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Check is one component probe result.
type Check struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Critical  bool   `json:"critical"` // store and identity checks are foundational
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report is the computed health status. Not persisted.
type Report struct {
	Status    Status    `json:"status"`
	Issues    []string  `json:"issues,omitempty"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Overall derives the status from check results: healthy when every check
// passes, degraded when at least 60% pass, unhealthy otherwise.
func Overall(checks []Check) Status {
	if len(checks) == 0 {
		return StatusUnhealthy
	}
	passed := 0
	for _, c := range checks {
		if c.OK {
			passed++
		}
	}
	switch {
	case passed == len(checks):
		return StatusHealthy
	case float64(passed) >= 0.6*float64(len(checks)):
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// SeverityOf escalates to critical when a foundational check failed.
func SeverityOf(checks []Check) Severity {
	for _, c := range checks {
		if !c.OK && c.Critical {
			return SeverityCritical
		}
	}
	return SeverityWarning
}

// Issues collects the failure messages for the report's issue list.
func Issues(checks []Check) []string {
	var out []string
	for _, c := range checks {
		if !c.OK {
			out = append(out, c.Name+": "+c.Message)
		}
	}
	return out
}

// NewReport assembles a report from check results at the given instant.
func NewReport(checks []Check, at time.Time) Report {
	return Report{
		Status:    Overall(checks),
		Issues:    Issues(checks),
		Checks:    checks,
		Timestamp: at,
	}
}
