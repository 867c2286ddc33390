package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/adapters/metrics"
	"github.com/plateful/spendgate/domain/health"
)

// Watchdog periodically runs the health checks and sweeps expired
// holds. It is a lifecycle object: Start is idempotent while running,
// Stop halts the schedule and waits for an in-flight sweep.
type Watchdog struct {
	health  *HealthService
	quotas  *QuotaService
	log     zerolog.Logger
	metrics *metrics.Collector

	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	sweeps  sync.WaitGroup

	lastMu sync.RWMutex
	last   health.Report
}

// WatchdogDeps contains dependencies for Watchdog.
type WatchdogDeps struct {
	Health  *HealthService
	Quotas  *QuotaService
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// WatchdogConfig contains configuration for Watchdog.
type WatchdogConfig struct {
	Interval time.Duration // between sweeps
	Timeout  time.Duration // per sweep
}

// NewWatchdog creates a new watchdog.
func NewWatchdog(deps WatchdogDeps, cfg WatchdogConfig) *Watchdog {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Watchdog{
		health:   deps.Health,
		quotas:   deps.Quotas,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		interval: interval,
		timeout:  timeout,
	}
}

// Start begins the periodic sweep. Calling Start on a running watchdog
// is a no-op.
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.log.Debug().Msg("watchdog already running")
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := c.AddFunc(spec, w.sweep); err != nil {
		return fmt.Errorf("schedule watchdog: %w", err)
	}

	c.Start()
	w.cron = c
	w.running = true
	w.log.Info().Dur("interval", w.interval).Msg("watchdog started")

	// First report without waiting a full interval. Cron only tracks
	// its own jobs, so this one is counted separately for Stop.
	w.sweeps.Add(1)
	go func() {
		defer w.sweeps.Done()
		w.sweep()
	}()
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	<-w.cron.Stop().Done()
	w.sweeps.Wait()
	w.cron = nil
	w.running = false
	w.log.Info().Msg("watchdog stopped")
}

// Running reports whether the schedule is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastReport returns the most recent health report, zero before the
// first sweep completes.
func (w *Watchdog) LastReport() health.Report {
	w.lastMu.RLock()
	defer w.lastMu.RUnlock()
	return w.last
}

func (w *Watchdog) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if w.metrics != nil {
		w.metrics.WatchdogRuns.Inc()
	}

	report := w.health.Run(ctx)
	w.lastMu.Lock()
	w.last = report
	w.lastMu.Unlock()

	switch report.Status {
	case health.StatusHealthy:
		w.log.Debug().Msg("health sweep clean")
	default:
		sev := health.SeverityOf(report.Checks)
		evt := w.log.Warn()
		if sev == health.SeverityCritical {
			evt = w.log.Error()
		}
		evt.Str("status", string(report.Status)).
			Str("severity", string(sev)).
			Strs("issues", report.Issues).
			Msg("health sweep found problems")
	}

	if _, err := w.quotas.SweepExpired(ctx); err != nil {
		w.log.Error().Err(err).Msg("expired hold sweep failed")
	}
}
