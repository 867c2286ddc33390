// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/adapters/metrics"
	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/ledger"
	"github.com/plateful/spendgate/domain/quota"
	"github.com/plateful/spendgate/ports"
)

// ErrReservationExpired indicates a commit arrived after the hold's TTL.
// The hold is released; the caller must record the spend directly if the
// work actually happened.
var ErrReservationExpired = errors.New("reservation expired")

// QuotaService coordinates admission checks, the reservation protocol,
// and spend recording. Reserve and CanConsume serialize per user so
// concurrent requests cannot jointly overspend.
type QuotaService struct {
	budgets ports.BudgetStore
	ledger  ports.LedgerStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	log     zerolog.Logger
	metrics *metrics.Collector

	defaults budget.Defaults
	ttl      time.Duration

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// QuotaDeps contains dependencies for QuotaService.
type QuotaDeps struct {
	Budgets ports.BudgetStore
	Ledger  ports.LedgerStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// QuotaConfig contains configuration for QuotaService.
type QuotaConfig struct {
	Defaults       budget.Defaults
	ReservationTTL time.Duration
}

// NewQuotaService creates a new quota service.
func NewQuotaService(deps QuotaDeps, cfg QuotaConfig) *QuotaService {
	ttl := cfg.ReservationTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QuotaService{
		budgets:  deps.Budgets,
		ledger:   deps.Ledger,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		defaults: cfg.Defaults,
		ttl:      ttl,
		users:    make(map[string]*sync.Mutex),
	}
}

// ReserveParams describes the spend a caller wants to hold.
type ReserveParams struct {
	Amount     float64
	ResourceID string
	Dimensions map[string]string
}

// Reservation is an open hold awaiting commit or release.
type Reservation struct {
	Token     string
	Amount    float64
	ExpiresAt time.Time
}

// CommitParams carries the actual outcome of the reserved work.
type CommitParams struct {
	Cost             float64
	Success          bool
	ErrorMessage     string
	GenerationTimeMs int64
}

// RecordParams describes a spend that already happened (no reservation).
type RecordParams struct {
	Cost             float64
	Success          bool
	ErrorMessage     string
	GenerationTimeMs int64
	ResourceID       string
	Dimensions       map[string]string
}

// userLock returns the per-user mutex, creating it on first use.
func (s *QuotaService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.users[userID]
	if !ok {
		l = &sync.Mutex{}
		s.users[userID] = l
	}
	return l
}

func (s *QuotaService) loadBudget(ctx context.Context, userID string) (budget.Budget, error) {
	def := budget.New(userID, s.defaults, s.clock.Now())
	return s.budgets.GetOrCreate(ctx, userID, def)
}

// admissionState loads the budget and the usage snapshot that admission
// decisions run against: settled spend plus live pending holds.
func (s *QuotaService) admissionState(ctx context.Context, userID string, now time.Time) (budget.Budget, quota.Snapshot, error) {
	b, err := s.loadBudget(ctx, userID)
	if err != nil {
		return budget.Budget{}, quota.Snapshot{}, fmt.Errorf("load budget: %w", err)
	}

	events, err := s.ledger.QueryByUserSince(ctx, userID, quota.WindowMonthly.Start(now))
	if err != nil {
		return budget.Budget{}, quota.Snapshot{}, fmt.Errorf("load ledger: %w", err)
	}

	countable := events[:0:0]
	for _, e := range events {
		if e.Countable(now, s.ttl) {
			countable = append(countable, e)
		}
	}
	return b, quota.Usage(b, countable, now), nil
}

// CanConsume answers whether the user may spend amount right now.
// When quota state cannot be loaded the decision fails closed: the
// request is denied with reason quota_unknown and the error returned.
func (s *QuotaService) CanConsume(ctx context.Context, userID string, amount float64) (quota.Decision, error) {
	started := time.Now()
	now := s.clock.Now()
	b, snap, err := s.admissionState(ctx, userID, now)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("admission check failed, denying")
		s.observeStoreError("admission", err)
		s.observeAdmission(quota.Unknown(), started)
		return quota.Unknown(), err
	}

	d := quota.Evaluate(b, snap, amount)
	s.observeAdmission(d, started)
	return d, nil
}

// Reserve places a hold for the requested amount if the budget admits
// it. The hold counts against subsequent admission checks until it is
// committed, released, or expires.
func (s *QuotaService) Reserve(ctx context.Context, userID string, p ReserveParams) (Reservation, quota.Decision, error) {
	if p.Amount <= 0 {
		return Reservation{}, quota.Decision{}, fmt.Errorf("%w: reserve amount must be positive", budget.ErrInvalidValue)
	}

	started := time.Now()
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	b, snap, err := s.admissionState(ctx, userID, now)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("reserve failed, denying")
		s.observeStoreError("reserve", err)
		s.observeAdmission(quota.Unknown(), started)
		s.observeReservation("reserve", "error")
		return Reservation{}, quota.Unknown(), err
	}

	d := quota.Evaluate(b, snap, p.Amount)
	s.observeAdmission(d, started)
	if !d.Allowed {
		s.observeReservation("reserve", "denied")
		return Reservation{}, d, nil
	}

	e := ledger.NewPending(s.idGen.New(), userID, p.ResourceID, p.Amount, now)
	e.Dimensions = p.Dimensions
	id, err := s.ledger.Append(ctx, e)
	if err != nil {
		s.observeStoreError("reserve", err)
		s.observeReservation("reserve", "error")
		return Reservation{}, quota.Unknown(), fmt.Errorf("append hold: %w", err)
	}

	s.observeReservation("reserve", "ok")
	if s.metrics != nil {
		s.metrics.PendingHolds.Inc()
	}
	s.log.Debug().Str("user_id", userID).Str("token", id).Float64("amount", p.Amount).Msg("hold placed")

	return Reservation{Token: id, Amount: p.Amount, ExpiresAt: now.Add(s.ttl)}, d, nil
}

// Commit settles a hold with the actual outcome. A commit after the
// hold's TTL releases the hold and fails with ErrReservationExpired.
func (s *QuotaService) Commit(ctx context.Context, token string, p CommitParams) error {
	e, err := s.ledger.GetEvent(ctx, token)
	if err != nil {
		s.observeStoreError("commit", err)
		s.observeReservation("commit", "error")
		return fmt.Errorf("load hold: %w", err)
	}
	if e.Status != ledger.StatusPending {
		s.observeReservation("commit", "error")
		return fmt.Errorf("hold %s already %s: %w", token, e.Status, ports.ErrNotFound)
	}

	now := s.clock.Now()
	if now.Sub(e.CreatedAt) > s.ttl {
		if err := s.ledger.Release(ctx, token); err != nil && !errors.Is(err, ports.ErrNotFound) {
			s.log.Error().Err(err).Str("token", token).Msg("release of expired hold failed")
		}
		s.observeReservation("commit", "expired")
		if s.metrics != nil {
			s.metrics.PendingHolds.Dec()
		}
		return ErrReservationExpired
	}

	cost := p.Cost
	if !p.Success {
		cost = 0
	}
	if err := s.ledger.Finalize(ctx, token, cost, p.Success, p.ErrorMessage, p.GenerationTimeMs); err != nil {
		s.observeStoreError("commit", err)
		s.observeReservation("commit", "error")
		return fmt.Errorf("finalize hold: %w", err)
	}

	s.observeReservation("commit", "ok")
	if s.metrics != nil {
		s.metrics.PendingHolds.Dec()
		if p.Success {
			s.metrics.SpendTotal.WithLabelValues(e.UserID).Add(cost)
		}
		if p.GenerationTimeMs > 0 {
			s.metrics.GenerationTime.Observe(float64(p.GenerationTimeMs) / 1000)
		}
	}
	s.log.Debug().Str("token", token).Float64("cost", cost).Bool("success", p.Success).Msg("hold committed")
	return nil
}

// Release rolls back a hold without charging anything.
func (s *QuotaService) Release(ctx context.Context, token string) error {
	if err := s.ledger.Release(ctx, token); err != nil {
		s.observeStoreError("release", err)
		s.observeReservation("release", "error")
		return fmt.Errorf("release hold: %w", err)
	}
	s.observeReservation("release", "ok")
	if s.metrics != nil {
		s.metrics.PendingHolds.Dec()
	}
	return nil
}

// Record appends an already-performed spend directly, bypassing
// admission. Actual spend is always recorded, even when it lands the
// user over budget; over-limit state surfaces through alerts and the
// next admission check.
func (s *QuotaService) Record(ctx context.Context, userID string, p RecordParams) (string, error) {
	cost := p.Cost
	if !p.Success {
		cost = 0
	}
	e := ledger.NewCommitted(s.idGen.New(), userID, p.ResourceID, cost, p.Success,
		p.ErrorMessage, p.GenerationTimeMs, p.Dimensions, s.clock.Now())

	id, err := s.ledger.Append(ctx, e)
	if err != nil {
		s.observeStoreError("record", err)
		return "", fmt.Errorf("record spend: %w", err)
	}
	if s.metrics != nil && p.Success {
		s.metrics.SpendTotal.WithLabelValues(userID).Add(cost)
	}
	return id, nil
}

// StatusReport is the user-facing budget status.
type StatusReport struct {
	Budget      budget.Budget
	Usage       quota.Snapshot
	Paused      bool
	PausedBy    quota.WindowType
	CanGenerate bool
}

// Status reports current usage across all windows. probeAmount is the
// cheapest possible spend; CanGenerate reflects whether that amount
// would currently be admitted.
func (s *QuotaService) Status(ctx context.Context, userID string, probeAmount float64) (StatusReport, error) {
	now := s.clock.Now()
	b, snap, err := s.admissionState(ctx, userID, now)
	if err != nil {
		return StatusReport{}, err
	}

	paused, by := quota.IsPaused(b, snap)
	return StatusReport{
		Budget:      b,
		Usage:       snap,
		Paused:      paused,
		PausedBy:    by,
		CanGenerate: quota.Evaluate(b, snap, probeAmount).Allowed,
	}, nil
}

// SweepExpired releases every hold older than the TTL. Run periodically
// so abandoned reservations stop counting against budgets.
func (s *QuotaService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.ttl)
	n, err := s.ledger.ReleaseExpired(ctx, cutoff)
	if err != nil {
		s.observeStoreError("sweep", err)
		return 0, fmt.Errorf("sweep expired holds: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("released", n).Msg("expired holds swept")
		if s.metrics != nil {
			s.metrics.ExpiredHolds.Add(float64(n))
			s.metrics.PendingHolds.Sub(float64(n))
		}
	}
	return n, nil
}

func (s *QuotaService) observeAdmission(d quota.Decision, started time.Time) {
	if s.metrics == nil {
		return
	}
	allowed := "false"
	reason := d.Reason
	if d.Allowed {
		allowed = "true"
		reason = "ok"
	}
	s.metrics.AdmissionsTotal.WithLabelValues(allowed, reason).Inc()
	s.metrics.AdmissionDuration.Observe(time.Since(started).Seconds())
}

// observeStoreError counts storage failures; lookup misses and other
// domain errors are not storage failures.
func (s *QuotaService) observeStoreError(op string, err error) {
	if s.metrics == nil || !errors.Is(err, ports.ErrStoreUnavailable) {
		return
	}
	s.metrics.StoreErrors.WithLabelValues(op).Inc()
}

func (s *QuotaService) observeReservation(op, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReservationsTotal.WithLabelValues(op, outcome).Inc()
}
