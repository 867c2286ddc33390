// Package metrics provides Prometheus metrics collection for Spendgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for Spendgate.
type Collector struct {
	// Admission metrics
	AdmissionsTotal   *prometheus.CounterVec
	AdmissionDuration prometheus.Histogram

	// Reservation metrics
	ReservationsTotal *prometheus.CounterVec
	PendingHolds      prometheus.Gauge
	ExpiredHolds      prometheus.Counter

	// Spend metrics
	SpendTotal     *prometheus.CounterVec
	GenerationTime prometheus.Histogram

	// Alert metrics
	AlertsEmitted    *prometheus.CounterVec
	AlertsSuppressed prometheus.Counter

	// Health metrics
	HealthStatus     prometheus.Gauge
	HealthCheckFails *prometheus.CounterVec
	WatchdogRuns     prometheus.Counter

	// Store metrics
	StoreErrors *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return build(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return build(promauto.With(reg))
}

func build(factory promauto.Factory) *Collector {
	return &Collector{
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "admissions_total",
				Help:      "Total admission decisions by outcome",
			},
			[]string{"allowed", "reason"},
		),
		AdmissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "spendgate",
				Name:      "admission_duration_seconds",
				Help:      "Admission check duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		ReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "reservations_total",
				Help:      "Total reservation operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		PendingHolds: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "spendgate",
				Name:      "pending_holds",
				Help:      "Number of reservations currently held open",
			},
		),
		ExpiredHolds: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "expired_holds_total",
				Help:      "Total reservations released by the expiry sweep",
			},
		),

		SpendTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "spend_usd_total",
				Help:      "Total committed spend in USD",
			},
			[]string{"user_id"},
		),
		GenerationTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "spendgate",
				Name:      "generation_time_seconds",
				Help:      "Reported generation time in seconds",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		AlertsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "alerts_emitted_total",
				Help:      "Total alerts created by window and type",
			},
			[]string{"window", "type"},
		),
		AlertsSuppressed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "alerts_suppressed_total",
				Help:      "Total alerts suppressed by unread deduplication",
			},
		),

		HealthStatus: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "spendgate",
				Name:      "health_status",
				Help:      "Overall health: 1 healthy, 0.5 degraded, 0 unhealthy",
			},
		),
		HealthCheckFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "health_check_failures_total",
				Help:      "Total health check failures by check name",
			},
			[]string{"check"},
		),
		WatchdogRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "watchdog_runs_total",
				Help:      "Total watchdog sweep executions",
			},
		),

		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "store_errors_total",
				Help:      "Total storage failures by operation",
			},
			[]string{"op"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spendgate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
	}
}
