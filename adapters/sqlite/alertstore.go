package sqlite

import (
	"context"

	"github.com/plateful/spendgate/domain/alert"
	"github.com/plateful/spendgate/domain/quota"
	"github.com/plateful/spendgate/ports"
)

// AlertStore persists budget alerts in SQLite.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

func (s *AlertStore) Create(ctx context.Context, a alert.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, user_id, alert_type, budget_window, current_amount, limit_amount, percentage, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, string(a.Type), string(a.Window), a.CurrentAmount,
		a.LimitAmount, a.Percentage, a.Message, a.IsRead, a.CreatedAt.UTC())
	if err != nil {
		return storeErr("insert alert", err)
	}
	return nil
}

func (s *AlertStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]alert.Alert, error) {
	query := `
		SELECT id, user_id, alert_type, budget_window, current_amount, limit_amount, percentage, message, is_read, created_at
		FROM alerts WHERE user_id = ?`
	args := []any{userID}
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query alerts", err)
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		var a alert.Alert
		var typ, window string
		err := rows.Scan(&a.ID, &a.UserID, &typ, &window, &a.CurrentAmount,
			&a.LimitAmount, &a.Percentage, &a.Message, &a.IsRead, &a.CreatedAt)
		if err != nil {
			return nil, storeErr("scan alert", err)
		}
		a.Type = alert.Type(typ)
		a.Window = quota.WindowType(window)
		a.CreatedAt = a.CreatedAt.UTC()
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query alerts", err)
	}
	return alerts, nil
}

// HasUnread reports whether an unread alert of the same window and type
// already exists for the user. New alerts of that shape are suppressed
// until the existing one is acknowledged.
func (s *AlertStore) HasUnread(ctx context.Context, userID string, w quota.WindowType, t alert.Type) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM alerts
		WHERE user_id = ? AND budget_window = ? AND alert_type = ? AND is_read = 0`,
		userID, string(w), string(t)).Scan(&n)
	if err != nil {
		return false, storeErr("count unread alerts", err)
	}
	return n > 0, nil
}

func (s *AlertStore) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE alerts SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return storeErr("mark alert read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("mark alert read", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM alerts WHERE id = ?", id).Scan(&exists); err != nil {
			return storeErr("mark alert read", err)
		}
		if exists == 0 {
			return ports.ErrNotFound
		}
	}
	return nil
}

var _ ports.AlertStore = (*AlertStore)(nil)
