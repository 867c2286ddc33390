package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plateful/spendgate/domain/ledger"
	"github.com/plateful/spendgate/ports"
)

// LedgerStore persists cost events in SQLite. Rows are append-only:
// the only mutations are the pending to committed and pending to
// released transitions, both guarded by a status predicate.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, e ledger.CostEvent) (string, error) {
	dims := e.Dimensions
	if dims == nil {
		dims = map[string]string{}
	}
	raw, err := json.Marshal(dims)
	if err != nil {
		return "", fmt.Errorf("encode dimensions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cost_events (id, user_id, resource_id, dimensions, cost, success, error_message, generation_time_ms, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ResourceID, string(raw), e.Cost, e.Success,
		e.ErrorMessage, e.GenerationTimeMs, string(e.Status), e.CreatedAt.UTC())
	if err != nil {
		return "", storeErr("insert cost event", err)
	}
	return e.ID, nil
}

func (s *LedgerStore) QueryByUserSince(ctx context.Context, userID string, since time.Time) ([]ledger.CostEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, resource_id, dimensions, cost, success, error_message, generation_time_ms, status, created_at
		FROM cost_events
		WHERE user_id = ? AND datetime(created_at) >= datetime(?)
		ORDER BY created_at ASC`,
		userID, since.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, storeErr("query cost events", err)
	}
	defer rows.Close()

	var events []ledger.CostEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query cost events", err)
	}
	return events, nil
}

func (s *LedgerStore) GetEvent(ctx context.Context, id string) (ledger.CostEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, resource_id, dimensions, cost, success, error_message, generation_time_ms, status, created_at
		FROM cost_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err != nil {
		return ledger.CostEvent{}, err
	}
	return e, nil
}

// Finalize settles a pending hold with the actual outcome. Events that
// are already committed or released are left untouched.
func (s *LedgerStore) Finalize(ctx context.Context, id string, cost float64, success bool, errorMessage string, generationTimeMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cost_events
		SET status = 'committed', cost = ?, success = ?, error_message = ?, generation_time_ms = ?
		WHERE id = ? AND status = 'pending'`,
		cost, success, errorMessage, generationTimeMs, id)
	if err != nil {
		return storeErr("finalize cost event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("finalize cost event", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *LedgerStore) Release(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cost_events SET status = 'released', cost = 0
		WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return storeErr("release cost event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("release cost event", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ReleaseExpired releases every pending hold created before cutoff and
// reports how many rows changed.
func (s *LedgerStore) ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cost_events SET status = 'released', cost = 0
		WHERE status = 'pending' AND datetime(created_at) < datetime(?)`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, storeErr("release expired holds", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("release expired holds", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (ledger.CostEvent, error) {
	var e ledger.CostEvent
	var dims string
	var status string
	err := row.Scan(&e.ID, &e.UserID, &e.ResourceID, &dims, &e.Cost,
		&e.Success, &e.ErrorMessage, &e.GenerationTimeMs, &status, &e.CreatedAt)
	if err != nil {
		return ledger.CostEvent{}, storeErr("scan cost event", err)
	}
	e.Status = ledger.Status(status)
	e.CreatedAt = e.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(dims), &e.Dimensions); err != nil {
		return ledger.CostEvent{}, fmt.Errorf("decode dimensions: %w", err)
	}
	return e, nil
}

var _ ports.LedgerStore = (*LedgerStore)(nil)
