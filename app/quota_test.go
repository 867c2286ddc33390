package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/adapters/clock"
	"github.com/plateful/spendgate/adapters/idgen"
	"github.com/plateful/spendgate/adapters/memory"
	"github.com/plateful/spendgate/adapters/metrics"
	"github.com/plateful/spendgate/app"
	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/ledger"
	"github.com/plateful/spendgate/domain/quota"
	"github.com/plateful/spendgate/ports"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

var testDefaults = budget.Defaults{
	DailyLimit:     1.00,
	WeeklyLimit:    5.00,
	MonthlyLimit:   10.00,
	AlertThreshold: 80,
	AutoPause:      true,
	PauseAtLimit:   true,
}

type quotaFixture struct {
	svc     *app.QuotaService
	budgets *memory.BudgetStore
	ledger  *memory.LedgerStore
	clock   *clock.Fake
}

func newQuotaFixture(t *testing.T) *quotaFixture {
	t.Helper()
	budgets := memory.NewBudgetStore()
	ledgerStore := memory.NewLedgerStore()
	clk := clock.NewFake(testNow)

	svc := app.NewQuotaService(app.QuotaDeps{
		Budgets: budgets,
		Ledger:  ledgerStore,
		Clock:   clk,
		IDGen:   idgen.NewSequential("evt-"),
		Logger:  zerolog.Nop(),
	}, app.QuotaConfig{
		Defaults:       testDefaults,
		ReservationTTL: 5 * time.Minute,
	})

	return &quotaFixture{svc: svc, budgets: budgets, ledger: ledgerStore, clock: clk}
}

func TestQuotaService_CanConsume_FreshUser(t *testing.T) {
	fx := newQuotaFixture(t)

	d, err := fx.svc.CanConsume(context.Background(), "user-1", 0.08)
	if err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if !d.Allowed {
		t.Errorf("decision = %+v, want allowed", d)
	}
}

func TestQuotaService_CanConsume_FailsClosed(t *testing.T) {
	fx := newQuotaFixture(t)
	fx.ledger.FailWith = ports.ErrStoreUnavailable

	d, err := fx.svc.CanConsume(context.Background(), "user-1", 0.08)
	if err == nil {
		t.Fatal("expected error")
	}
	if d.Allowed {
		t.Error("decision should deny when quota state is unknown")
	}
	if d.Reason != quota.ReasonQuotaUnknown {
		t.Errorf("Reason = %s, want quota_unknown", d.Reason)
	}
}

func TestQuotaService_Reserve_HoldCountsAgainstBudget(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	res, d, err := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.90})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("decision = %+v, want allowed", d)
	}
	if res.Token == "" {
		t.Fatal("token should not be empty")
	}
	if !res.ExpiresAt.Equal(testNow.Add(5 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, testNow.Add(5*time.Minute))
	}

	// The open hold leaves only 0.10 of the daily budget.
	d2, err := fx.svc.CanConsume(ctx, "user-1", 0.20)
	if err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if d2.Allowed {
		t.Error("second request should not fit alongside the hold")
	}
	if d2.Window != quota.WindowDaily {
		t.Errorf("Window = %s, want daily", d2.Window)
	}
}

func TestQuotaService_Reserve_Denied(t *testing.T) {
	fx := newQuotaFixture(t)

	res, d, err := fx.svc.Reserve(context.Background(), "user-1", app.ReserveParams{Amount: 2.00})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if d.Allowed {
		t.Error("reserve above the daily limit should be denied")
	}
	if res.Token != "" {
		t.Error("denied reserve must not place a hold")
	}
}

func TestQuotaService_Reserve_RejectsNonPositiveAmount(t *testing.T) {
	fx := newQuotaFixture(t)

	_, _, err := fx.svc.Reserve(context.Background(), "user-1", app.ReserveParams{Amount: 0})
	if !errors.Is(err, budget.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestQuotaService_Commit_SettlesActualCost(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	res, _, err := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.16})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = fx.svc.Commit(ctx, res.Token, app.CommitParams{
		Cost: 0.08, Success: true, GenerationTimeMs: 3200,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	e, err := fx.ledger.GetEvent(ctx, res.Token)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if e.Status != ledger.StatusCommitted {
		t.Errorf("Status = %s, want committed", e.Status)
	}
	if e.Cost != 0.08 {
		t.Errorf("Cost = %v, want 0.08 (actual, not reserved)", e.Cost)
	}
}

func TestQuotaService_Commit_FailedWorkCostsNothing(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	res, _, _ := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.16})

	err := fx.svc.Commit(ctx, res.Token, app.CommitParams{
		Cost: 0.16, Success: false, ErrorMessage: "upstream timeout",
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	e, _ := fx.ledger.GetEvent(ctx, res.Token)
	if e.Cost != 0 {
		t.Errorf("Cost = %v, want 0 for failed work", e.Cost)
	}
	if e.Success {
		t.Error("Success should be false")
	}
}

func TestQuotaService_Commit_Expired(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	res, _, _ := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.16})

	fx.clock.Advance(6 * time.Minute)

	err := fx.svc.Commit(ctx, res.Token, app.CommitParams{Cost: 0.08, Success: true})
	if !errors.Is(err, app.ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}

	e, _ := fx.ledger.GetEvent(ctx, res.Token)
	if e.Status != ledger.StatusReleased {
		t.Errorf("Status = %s, want released after expired commit", e.Status)
	}
}

func TestQuotaService_Commit_UnknownToken(t *testing.T) {
	fx := newQuotaFixture(t)

	err := fx.svc.Commit(context.Background(), "nope", app.CommitParams{Cost: 0.08, Success: true})
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuotaService_Release_FreesCapacity(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	res, _, _ := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.90})

	if err := fx.svc.Release(ctx, res.Token); err != nil {
		t.Fatalf("release: %v", err)
	}

	d, err := fx.svc.CanConsume(ctx, "user-1", 0.90)
	if err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if !d.Allowed {
		t.Error("released hold should no longer count against the budget")
	}
}

func TestQuotaService_Record_AlwaysAppends(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	// Well over every limit; actual spend is still the truth.
	id, err := fx.svc.Record(ctx, "user-1", app.RecordParams{
		Cost: 50.00, Success: true, GenerationTimeMs: 2000,
		Dimensions: map[string]string{"size": "1024x1024"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	e, err := fx.ledger.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if e.Cost != 50.00 || !e.Settled() {
		t.Errorf("event = %+v, want settled at 50.00", e)
	}

	d, _ := fx.svc.CanConsume(ctx, "user-1", 0.01)
	if d.Allowed {
		t.Error("user should be over budget after the oversized record")
	}
	if d.Reason != quota.ReasonPaused {
		t.Errorf("Reason = %s, want paused", d.Reason)
	}
}

func TestQuotaService_Status(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	// Three generations at $0.40 exhaust the $1 daily budget.
	for i := 0; i < 3; i++ {
		if _, err := fx.svc.Record(ctx, "user-1", app.RecordParams{Cost: 0.40, Success: true}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	st, err := fx.svc.Status(ctx, "user-1", 0.04)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if st.Usage.Daily.Used != 1.20 {
		t.Errorf("daily used = %v, want 1.20", st.Usage.Daily.Used)
	}
	if !st.Paused {
		t.Error("account should be paused at the daily limit")
	}
	if st.PausedBy != quota.WindowDaily {
		t.Errorf("PausedBy = %s, want daily", st.PausedBy)
	}
	if st.CanGenerate {
		t.Error("CanGenerate should be false while paused")
	}
}

func TestQuotaService_SweepExpired(t *testing.T) {
	fx := newQuotaFixture(t)
	ctx := context.Background()

	res, _, _ := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.16})
	fx.clock.Advance(10 * time.Minute)

	n, err := fx.svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	e, _ := fx.ledger.GetEvent(ctx, res.Token)
	if e.Status != ledger.StatusReleased {
		t.Errorf("Status = %s, want released", e.Status)
	}
}

func TestQuotaService_Reserve_ConcurrentStaysWithinLimit(t *testing.T) {
	budgets := memory.NewBudgetStore()
	ledgerStore := memory.NewLedgerStore()

	svc := app.NewQuotaService(app.QuotaDeps{
		Budgets: budgets,
		Ledger:  ledgerStore,
		Clock:   clock.NewFake(testNow),
		IDGen:   idgen.NewSequential("evt-"),
		Logger:  zerolog.Nop(),
	}, app.QuotaConfig{
		Defaults:       testDefaults, // daily limit 1.00
		ReservationTTL: 5 * time.Minute,
	})

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var approved int

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, d, err := svc.Reserve(context.Background(), "user-1", app.ReserveParams{Amount: 0.30})
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 0.30 each against a 1.00 daily limit: the fourth hold would
	// overspend, so exactly three may be admitted.
	if approved != 3 {
		t.Errorf("approved = %d, want 3", approved)
	}

	events, err := ledgerStore.QueryByUserSince(context.Background(), "user-1", testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("query ledger: %v", err)
	}
	var held float64
	for _, e := range events {
		if e.Status == ledger.StatusPending {
			held += e.Cost
		}
	}
	if held > 1.00 {
		t.Errorf("held = %v, holds exceed the daily limit", held)
	}
}

func newMeteredQuotaFixture(t *testing.T) (*quotaFixture, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	budgets := memory.NewBudgetStore()
	ledgerStore := memory.NewLedgerStore()
	clk := clock.NewFake(testNow)

	svc := app.NewQuotaService(app.QuotaDeps{
		Budgets: budgets,
		Ledger:  ledgerStore,
		Clock:   clk,
		IDGen:   idgen.NewSequential("evt-"),
		Logger:  zerolog.Nop(),
		Metrics: metrics.NewWithRegistry(reg),
	}, app.QuotaConfig{
		Defaults:       testDefaults,
		ReservationTTL: 5 * time.Minute,
	})

	return &quotaFixture{svc: svc, budgets: budgets, ledger: ledgerStore, clock: clk}, reg
}

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestQuotaService_Metrics_AdmissionDuration(t *testing.T) {
	fx, reg := newMeteredQuotaFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.CanConsume(ctx, "user-1", 0.08); err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if _, _, err := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.08}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	f := gatherFamily(t, reg, "spendgate_admission_duration_seconds")
	if f == nil {
		t.Fatal("spendgate_admission_duration_seconds not found")
	}
	if got := f.GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("samples = %d, want 2", got)
	}
}

func TestQuotaService_Metrics_StoreErrors(t *testing.T) {
	fx, reg := newMeteredQuotaFixture(t)
	fx.ledger.FailWith = ports.ErrStoreUnavailable
	ctx := context.Background()

	if _, err := fx.svc.CanConsume(ctx, "user-1", 0.08); err == nil {
		t.Fatal("expected store error from can consume")
	}
	if _, _, err := fx.svc.Reserve(ctx, "user-1", app.ReserveParams{Amount: 0.08}); err == nil {
		t.Fatal("expected store error from reserve")
	}

	f := gatherFamily(t, reg, "spendgate_store_errors_total")
	if f == nil {
		t.Fatal("spendgate_store_errors_total not found")
	}

	counts := map[string]float64{}
	for _, m := range f.GetMetric() {
		counts[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if counts["admission"] != 1 {
		t.Errorf("admission errors = %v, want 1", counts["admission"])
	}
	if counts["reserve"] != 1 {
		t.Errorf("reserve errors = %v, want 1", counts["reserve"])
	}
}

func TestQuotaService_Metrics_StoreErrors_SkipsNotFound(t *testing.T) {
	fx, reg := newMeteredQuotaFixture(t)

	err := fx.svc.Commit(context.Background(), "no-such-token", app.CommitParams{Cost: 0.04, Success: true})
	if !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	f := gatherFamily(t, reg, "spendgate_store_errors_total")
	if f != nil && len(f.GetMetric()) > 0 {
		t.Errorf("lookup miss counted as store error: %v", f.GetMetric())
	}
}
