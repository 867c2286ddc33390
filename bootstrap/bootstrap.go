// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/adapters/clock"
	spendhttp "github.com/plateful/spendgate/adapters/http"
	"github.com/plateful/spendgate/adapters/identity"
	"github.com/plateful/spendgate/adapters/idgen"
	"github.com/plateful/spendgate/adapters/metrics"
	"github.com/plateful/spendgate/adapters/sqlite"
	"github.com/plateful/spendgate/app"
	"github.com/plateful/spendgate/config"
	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Quotas    *app.QuotaService
	Budgets   *app.BudgetService
	Alerts    *app.AlertService
	Analytics *app.AnalyticsService
	Health    *app.HealthService
	Watchdog  *app.Watchdog

	identity ports.Identity
}

// New creates and initializes the application. configPath may be empty,
// in which case configuration comes from environment variables only.
func New(configPath string) (*App, error) {
	holder, err := newHolder(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := holder.Get()

	logger := setupLogger(cfg)
	logger.Info().Msg("initializing spendgate")

	a := &App{
		Logger: logger,
		Config: holder,
	}

	if err := a.initDatabase(cfg); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initServices(cfg); err != nil {
		a.DB.Close()
		return nil, fmt.Errorf("init services: %w", err)
	}

	a.initHTTPServer(cfg)

	if configPath != "" {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		holder.WatchSignals()
		holder.OnChange(func(c *config.Config) {
			if a.Metrics != nil {
				a.Metrics.ConfigReloads.Inc()
			}
		})
		holder.OnReloadError(func(error) {
			if a.Metrics != nil {
				a.Metrics.ConfigReloadErrors.Inc()
			}
		})
	}

	return a, nil
}

func newHolder(path string) (*config.Holder, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if path != "" {
		return config.NewHolder(path, logger)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return config.NewStaticHolder(cfg, logger), nil
}

func (a *App) initDatabase(cfg *config.Config) error {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.DB = db
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	return nil
}

func (a *App) initServices(cfg *config.Config) error {
	clk := clock.Real{}
	ids := idgen.UUID{}

	budgets := sqlite.NewBudgetStore(a.DB)
	ledgerStore := sqlite.NewLedgerStore(a.DB)
	alertStore := sqlite.NewAlertStore(a.DB)
	credStore := sqlite.NewCredentialStore(a.DB)

	switch cfg.Identity.Mode {
	case "token":
		a.identity = identity.NewTokenAuth(credStore, clk)
		a.Logger.Info().Msg("token authentication enabled")
	default:
		a.identity = identity.Static{UserID: cfg.Identity.UserID}
		a.Logger.Info().Str("user", cfg.Identity.UserID).Msg("static identity mode")
	}

	defaults := budgetDefaults(cfg)
	limits := budgetLimits(cfg)

	a.Quotas = app.NewQuotaService(app.QuotaDeps{
		Budgets: budgets,
		Ledger:  ledgerStore,
		Clock:   clk,
		IDGen:   ids,
		Logger:  a.Logger,
		Metrics: a.Metrics,
	}, app.QuotaConfig{
		Defaults:       defaults,
		ReservationTTL: cfg.Reservations.TTL,
	})

	a.Budgets = app.NewBudgetService(app.BudgetDeps{
		Budgets: budgets,
		Clock:   clk,
		Logger:  a.Logger,
	}, app.BudgetConfig{Defaults: defaults, Limits: limits})

	a.Alerts = app.NewAlertService(app.AlertDeps{
		Alerts:  alertStore,
		Quotas:  a.Quotas,
		Ledger:  ledgerStore,
		Clock:   clk,
		IDGen:   ids,
		Logger:  a.Logger,
		Metrics: a.Metrics,
	})

	a.Analytics = app.NewAnalyticsService(ledgerStore, clk)

	a.Health = app.NewHealthService(app.HealthDeps{
		Store:    a.DB,
		Identity: a.identity,
		Budgets:  budgets,
		Clock:    clk,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
	}, app.HealthConfig{
		Defaults: defaults,
		Limits:   limits,
		Pricing:  cfg.Pricing.Costs,
	})

	if cfg.Watchdog.Enabled {
		a.Watchdog = app.NewWatchdog(app.WatchdogDeps{
			Health:  a.Health,
			Quotas:  a.Quotas,
			Logger:  a.Logger,
			Metrics: a.Metrics,
		}, app.WatchdogConfig{
			Interval: cfg.Watchdog.Interval,
			Timeout:  cfg.Watchdog.Timeout,
		})
	}

	return nil
}

func (a *App) initHTTPServer(cfg *config.Config) {
	handler := spendhttp.NewHandler(spendhttp.Deps{
		Quotas:    a.Quotas,
		Budgets:   a.Budgets,
		Alerts:    a.Alerts,
		Analytics: a.Analytics,
		Health:    a.Health,
		Identity:  a.identity,
		Holder:    a.Config,
		Logger:    a.Logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	if a.Watchdog != nil {
		if err := a.Watchdog.Start(); err != nil {
			return fmt.Errorf("start watchdog: %w", err)
		}
		a.Logger.Info().Msg("watchdog started")
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Watchdog != nil {
		a.Watchdog.Stop()
	}

	if a.Config != nil {
		a.Config.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func budgetDefaults(cfg *config.Config) budget.Defaults {
	return budget.Defaults{
		DailyLimit:     cfg.Budgets.DefaultDaily,
		WeeklyLimit:    cfg.Budgets.DefaultWeekly,
		MonthlyLimit:   cfg.Budgets.DefaultMonthly,
		AlertThreshold: cfg.Budgets.AlertThreshold,
		AutoPause:      cfg.Budgets.AutoPause,
		PauseAtLimit:   cfg.Budgets.PauseAtLimit,
	}
}

func budgetLimits(cfg *config.Config) budget.Limits {
	return budget.Limits{
		Daily:   budget.Bounds{Min: cfg.Budgets.MinDaily, Max: cfg.Budgets.MaxDaily},
		Weekly:  budget.Bounds{Min: cfg.Budgets.MinWeekly, Max: cfg.Budgets.MaxWeekly},
		Monthly: budget.Bounds{Min: cfg.Budgets.MinMonthly, Max: cfg.Budgets.MaxMonthly},
	}
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
