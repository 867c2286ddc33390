package sqlite_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/plateful/spendgate/adapters/sqlite"
	"github.com/plateful/spendgate/domain/alert"
	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/ledger"
	"github.com/plateful/spendgate/domain/quota"
	"github.com/plateful/spendgate/ports"
)

func setupTestDB(t *testing.T) (*sqlite.DB, func()) {
	t.Helper()

	// Create temp file for test database
	f, err := os.CreateTemp("", "spendgate-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlite.Open(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		os.Remove(path)
		t.Fatalf("migrate: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(path)
	}

	return db, cleanup
}

func testBudget(userID string, now time.Time) budget.Budget {
	return budget.Budget{
		UserID:         userID,
		DailyLimit:     5,
		WeeklyLimit:    25,
		MonthlyLimit:   75,
		AlertThreshold: 80,
		AutoPause:      true,
		PauseAtLimit:   true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// -----------------------------------------------------------------------------
// BudgetStore Tests
// -----------------------------------------------------------------------------

func TestBudgetStore_GetOrCreate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewBudgetStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := store.GetOrCreate(ctx, "user-1", testBudget("", now))
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	if got.UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", got.UserID)
	}
	if got.DailyLimit != 5 {
		t.Errorf("DailyLimit = %v, want 5", got.DailyLimit)
	}
	if !got.PauseAtLimit {
		t.Error("PauseAtLimit should be true")
	}
}

func TestBudgetStore_GetOrCreate_ExistingRowWins(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewBudgetStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	first, err := store.GetOrCreate(ctx, "user-1", testBudget("", now))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Second call with different defaults must return the stored row.
	other := testBudget("", now.Add(time.Hour))
	other.DailyLimit = 99

	second, err := store.GetOrCreate(ctx, "user-1", other)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if second.DailyLimit != first.DailyLimit {
		t.Errorf("DailyLimit = %v, want %v", second.DailyLimit, first.DailyLimit)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestBudgetStore_Update(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewBudgetStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	b, err := store.GetOrCreate(ctx, "user-1", testBudget("", now))
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	prev := b.UpdatedAt
	b.DailyLimit = 10
	b.PauseAtLimit = false
	b.UpdatedAt = now.Add(time.Minute)

	if _, err := store.Update(ctx, b, prev); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetOrCreate(ctx, "user-1", testBudget("", now))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got.DailyLimit != 10 {
		t.Errorf("DailyLimit = %v, want 10", got.DailyLimit)
	}
	if got.PauseAtLimit {
		t.Error("PauseAtLimit should be false")
	}
}

func TestBudgetStore_Update_StaleConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewBudgetStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	b, err := store.GetOrCreate(ctx, "user-1", testBudget("", now))
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	prev := b.UpdatedAt
	b.UpdatedAt = now.Add(time.Minute)
	if _, err := store.Update(ctx, b, prev); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second writer still holds the original timestamp.
	b.DailyLimit = 42
	b.UpdatedAt = now.Add(2 * time.Minute)
	_, err = store.Update(ctx, b, prev)
	if !errors.Is(err, ports.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestBudgetStore_Update_SameSecondStaleConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewBudgetStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	b, err := store.GetOrCreate(ctx, "user-1", testBudget("", now))
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	// First writer moves the timestamp within the same wall second.
	prev := b.UpdatedAt
	b.UpdatedAt = now.Add(500 * time.Millisecond)
	if _, err := store.Update(ctx, b, prev); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second writer still holds the pre-update timestamp. The stored
	// value differs only below the second, which must still conflict.
	b.DailyLimit = 42
	b.UpdatedAt = now.Add(900 * time.Millisecond)
	_, err = store.Update(ctx, b, prev)
	if !errors.Is(err, ports.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestBudgetStore_GetOrCreate_Concurrent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewBudgetStore(db)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	const callers = 8
	results := make([]budget.Budget, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			def := testBudget("", now.Add(time.Duration(i)*time.Second))
			results[i], errs[i] = store.GetOrCreate(context.Background(), "user-1", def)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].UserID != "user-1" || results[i].DailyLimit != 5 {
			t.Errorf("caller %d budget = %+v", i, results[i])
		}
		if !results[i].UpdatedAt.Equal(results[0].UpdatedAt) {
			t.Errorf("caller %d UpdatedAt = %v, want %v", i, results[i].UpdatedAt, results[0].UpdatedAt)
		}
	}

	var count int
	err := db.DB.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM budgets WHERE user_id = ?", "user-1").Scan(&count)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("budget rows = %d, want 1", count)
	}
}

func TestBudgetStore_Update_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewBudgetStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := store.Update(ctx, testBudget("ghost", now), now)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// LedgerStore Tests
// -----------------------------------------------------------------------------

func TestLedgerStore_AppendAndQuery(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewLedgerStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	e1 := ledger.NewCommitted("evt-1", "user-1", "img-1", 0.04, true, "", 2500,
		map[string]string{"size": "1024x1024", "quality": "standard"}, now.Add(-2*time.Hour))
	e2 := ledger.NewCommitted("evt-2", "user-1", "img-2", 0.08, true, "", 4000,
		nil, now.Add(-time.Hour))
	e3 := ledger.NewCommitted("evt-3", "user-2", "img-3", 0.04, true, "", 2000,
		nil, now)

	for _, e := range []ledger.CostEvent{e1, e2, e3} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.ID, err)
		}
	}

	events, err := store.QueryByUserSince(ctx, "user-1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	// Ascending by creation time.
	if events[0].ID != "evt-1" || events[1].ID != "evt-2" {
		t.Errorf("order = %s, %s, want evt-1, evt-2", events[0].ID, events[1].ID)
	}
	if events[0].Dimensions["size"] != "1024x1024" {
		t.Errorf("Dimensions = %v", events[0].Dimensions)
	}
	if events[0].Cost != 0.04 {
		t.Errorf("Cost = %v, want 0.04", events[0].Cost)
	}
}

func TestLedgerStore_QuerySinceExcludesOlder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewLedgerStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	old := ledger.NewCommitted("evt-old", "user-1", "img", 0.04, true, "", 0, nil, now.Add(-48*time.Hour))
	recent := ledger.NewCommitted("evt-new", "user-1", "img", 0.04, true, "", 0, nil, now.Add(-time.Hour))
	store.Append(ctx, old)
	store.Append(ctx, recent)

	events, err := store.QueryByUserSince(ctx, "user-1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(events) != 1 || events[0].ID != "evt-new" {
		t.Errorf("events = %v, want only evt-new", events)
	}
}

func TestLedgerStore_FinalizePending(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewLedgerStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	hold := ledger.NewPending("hold-1", "user-1", "img-1", 0.08, now)
	if _, err := store.Append(ctx, hold); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.Finalize(ctx, "hold-1", 0.04, true, "", 3200); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := store.GetEvent(ctx, "hold-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}

	if got.Status != ledger.StatusCommitted {
		t.Errorf("Status = %s, want committed", got.Status)
	}
	if got.Cost != 0.04 {
		t.Errorf("Cost = %v, want 0.04", got.Cost)
	}
	if got.GenerationTimeMs != 3200 {
		t.Errorf("GenerationTimeMs = %d, want 3200", got.GenerationTimeMs)
	}

	// Committed rows are final.
	err = store.Finalize(ctx, "hold-1", 0.99, true, "", 0)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second finalize, got %v", err)
	}
}

func TestLedgerStore_Release(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewLedgerStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	hold := ledger.NewPending("hold-1", "user-1", "img-1", 0.08, now)
	store.Append(ctx, hold)

	if err := store.Release(ctx, "hold-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err := store.GetEvent(ctx, "hold-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}

	if got.Status != ledger.StatusReleased {
		t.Errorf("Status = %s, want released", got.Status)
	}
	if got.Cost != 0 {
		t.Errorf("Cost = %v, want 0", got.Cost)
	}

	err = store.Release(ctx, "hold-1")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second release, got %v", err)
	}
}

func TestLedgerStore_ReleaseExpired(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewLedgerStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	stale := ledger.NewPending("hold-stale", "user-1", "img", 0.08, now.Add(-10*time.Minute))
	fresh := ledger.NewPending("hold-fresh", "user-1", "img", 0.08, now.Add(-time.Minute))
	settled := ledger.NewCommitted("evt-1", "user-1", "img", 0.04, true, "", 0, nil, now.Add(-10*time.Minute))
	store.Append(ctx, stale)
	store.Append(ctx, fresh)
	store.Append(ctx, settled)

	n, err := store.ReleaseExpired(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("release expired: %v", err)
	}
	if n != 1 {
		t.Errorf("released = %d, want 1", n)
	}

	got, _ := store.GetEvent(ctx, "hold-stale")
	if got.Status != ledger.StatusReleased {
		t.Errorf("stale hold Status = %s, want released", got.Status)
	}
	got, _ = store.GetEvent(ctx, "hold-fresh")
	if got.Status != ledger.StatusPending {
		t.Errorf("fresh hold Status = %s, want pending", got.Status)
	}
	got, _ = store.GetEvent(ctx, "evt-1")
	if got.Status != ledger.StatusCommitted {
		t.Errorf("committed event Status = %s, want committed", got.Status)
	}
}

func TestLedgerStore_GetEvent_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewLedgerStore(db)
	ctx := context.Background()

	_, err := store.GetEvent(ctx, "nonexistent")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// AlertStore Tests
// -----------------------------------------------------------------------------

func TestAlertStore_CreateAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAlertStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	a1 := alert.Alert{
		ID: "alert-1", UserID: "user-1", Type: alert.TypeThreshold,
		Window: quota.WindowMonthly, CurrentAmount: 8.5, LimitAmount: 10,
		Percentage: 85, Message: "monthly budget at 85%", CreatedAt: now.Add(-time.Hour),
	}
	a2 := alert.Alert{
		ID: "alert-2", UserID: "user-1", Type: alert.TypeLimitReached,
		Window: quota.WindowDaily, CurrentAmount: 5, LimitAmount: 5,
		Percentage: 100, Message: "daily limit reached", CreatedAt: now,
	}

	for _, a := range []alert.Alert{a1, a2} {
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.ID, err)
		}
	}

	alerts, err := store.ListByUser(ctx, "user-1", false, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(alerts) != 2 {
		t.Fatalf("len = %d, want 2", len(alerts))
	}
	// Newest first.
	if alerts[0].ID != "alert-2" {
		t.Errorf("first = %s, want alert-2", alerts[0].ID)
	}
	if alerts[1].Window != quota.WindowMonthly {
		t.Errorf("Window = %s, want monthly", alerts[1].Window)
	}
	if alerts[1].Percentage != 85 {
		t.Errorf("Percentage = %v, want 85", alerts[1].Percentage)
	}
}

func TestAlertStore_UnreadFilterAndLimit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAlertStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		a := alert.Alert{
			ID: "alert-" + itoa(i), UserID: "user-1", Type: alert.TypeThreshold,
			Window: quota.WindowDaily, Percentage: 80,
			IsRead:    i%2 == 0,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("create alert %d: %v", i, err)
		}
	}

	unread, err := store.ListByUser(ctx, "user-1", true, 0)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 2 {
		t.Errorf("unread len = %d, want 2", len(unread))
	}

	limited, err := store.ListByUser(ctx, "user-1", false, 3)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 3 {
		t.Errorf("limited len = %d, want 3", len(limited))
	}
}

func TestAlertStore_HasUnread(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAlertStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	a := alert.Alert{
		ID: "alert-1", UserID: "user-1", Type: alert.TypeThreshold,
		Window: quota.WindowMonthly, Percentage: 85, CreatedAt: now,
	}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.HasUnread(ctx, "user-1", quota.WindowMonthly, alert.TypeThreshold)
	if err != nil {
		t.Fatalf("has unread: %v", err)
	}
	if !got {
		t.Error("expected unread alert")
	}

	// Different window does not match.
	got, _ = store.HasUnread(ctx, "user-1", quota.WindowDaily, alert.TypeThreshold)
	if got {
		t.Error("daily window should have no unread alert")
	}

	if err := store.MarkRead(ctx, "alert-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	got, _ = store.HasUnread(ctx, "user-1", quota.WindowMonthly, alert.TypeThreshold)
	if got {
		t.Error("acknowledged alert should not count as unread")
	}
}

func TestAlertStore_MarkRead_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAlertStore(db)
	ctx := context.Background()

	err := store.MarkRead(ctx, "nonexistent")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// CredentialStore Tests
// -----------------------------------------------------------------------------

func TestCredentialStore_CreateAndGetByPrefix(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewCredentialStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	c := ports.Credential{
		ID:        "cred-1",
		UserID:    "user-1",
		Prefix:    "sg_test12345",
		Hash:      []byte("hash123"),
		CreatedAt: now,
	}

	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	creds, err := store.GetByPrefix(ctx, c.Prefix)
	if err != nil {
		t.Fatalf("get by prefix: %v", err)
	}

	if len(creds) != 1 {
		t.Fatalf("len = %d, want 1", len(creds))
	}
	if creds[0].UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", creds[0].UserID)
	}
	if creds[0].RevokedAt != nil {
		t.Error("RevokedAt should be nil")
	}
}

func TestCredentialStore_Revoke(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewCredentialStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	c := ports.Credential{
		ID: "cred-1", UserID: "user-1", Prefix: "sg_revoke123",
		Hash: []byte("hash"), CreatedAt: now,
	}
	store.Create(ctx, c)

	if err := store.Revoke(ctx, "cred-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	creds, _ := store.GetByPrefix(ctx, c.Prefix)
	if len(creds) != 1 || creds[0].RevokedAt == nil {
		t.Fatal("RevokedAt should be set")
	}

	err := store.Revoke(ctx, "cred-1", now.Add(2*time.Hour))
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second revoke, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Migration Tests
// -----------------------------------------------------------------------------

func TestMigration_Idempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// Run migrations again - should be idempotent
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migration: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}
