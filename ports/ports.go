// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/plateful/spendgate/domain/alert"
	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/ledger"
	"github.com/plateful/spendgate/domain/quota"
)

// Shared error taxonomy. Adapters wrap driver errors into these sentinels
// so upper layers can decide fail-closed behavior without inspecting
// driver-specific failures.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an optimistic concurrency check failed.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrStoreUnavailable indicates the durable store could not be read or
	// written. The quota engine treats it as grounds for fail-closed denial.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnauthenticated indicates no acting user could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Identity resolves the acting user for operations that omit an explicit
// user id.
type Identity interface {
	// CurrentUserID returns the authenticated user for the request context,
	// or ErrUnauthenticated when no session exists.
	CurrentUserID(ctx context.Context) (string, error)

	// Ping verifies the identity backend is reachable (health checks).
	Ping(ctx context.Context) error
}

// Pinger verifies a backing store is reachable with a lightweight probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// BudgetStore persists per-user budget configuration.
type BudgetStore interface {
	// GetOrCreate returns the user's budget, atomically inserting def when
	// no row exists. Must be race-safe under concurrent first access.
	GetOrCreate(ctx context.Context, userID string, def budget.Budget) (budget.Budget, error)

	// Update persists b if the stored row's UpdatedAt still equals
	// prevUpdatedAt, returning ErrConflict otherwise (optimistic
	// concurrency against clobbered settings changes).
	Update(ctx context.Context, b budget.Budget, prevUpdatedAt time.Time) (budget.Budget, error)
}

// LedgerStore persists the append-only cost event ledger. Finalized events
// are immutable; the only permitted transitions are the reservation
// protocol's pending -> committed and pending -> released.
type LedgerStore interface {
	// Append stores a new event and returns its id. Never silently drops
	// an event: a write the store cannot accept fails with
	// ErrStoreUnavailable.
	Append(ctx context.Context, e ledger.CostEvent) (string, error)

	// QueryByUserSince returns the user's events at or after since,
	// ordered by created_at ascending.
	QueryByUserSince(ctx context.Context, userID string, since time.Time) ([]ledger.CostEvent, error)

	// Finalize commits a pending event with its actual outcome. Returns
	// ErrNotFound when no pending event with the id exists.
	Finalize(ctx context.Context, id string, cost float64, success bool, errorMessage string, generationTimeMs int64) error

	// Release rolls back a pending event. Returns ErrNotFound when no
	// pending event with the id exists.
	Release(ctx context.Context, id string) error

	// ReleaseExpired releases all pending events created before cutoff and
	// returns how many were swept.
	ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// GetEvent retrieves a single event by id.
	GetEvent(ctx context.Context, id string) (ledger.CostEvent, error)
}

// AlertStore persists per-user budget alerts.
type AlertStore interface {
	// Create stores a new alert.
	Create(ctx context.Context, a alert.Alert) error

	// ListByUser returns the user's alerts, newest first.
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]alert.Alert, error)

	// HasUnread reports whether an unread alert already exists for the
	// (user, window, type) condition. Used for de-duplication.
	HasUnread(ctx context.Context, userID string, w quota.WindowType, t alert.Type) (bool, error)

	// MarkRead flips is_read. Idempotent: marking a read alert is a no-op.
	MarkRead(ctx context.Context, id string) error
}

// Credential is an API credential resolving to a user (bearer tokens).
type Credential struct {
	ID        string
	UserID    string
	Prefix    string // first characters of the token, for lookup
	Hash      []byte // bcrypt hash of the full token
	RevokedAt *time.Time
	CreatedAt time.Time
}

// CredentialStore persists API credentials for the identity adapter.
type CredentialStore interface {
	// GetByPrefix retrieves credentials matching a token prefix.
	GetByPrefix(ctx context.Context, prefix string) ([]Credential, error)

	// Create stores a new credential.
	Create(ctx context.Context, c Credential) error

	// Revoke marks a credential as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error
}
