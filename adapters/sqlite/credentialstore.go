package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/plateful/spendgate/ports"
)

// CredentialStore persists API credentials in SQLite.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Create(ctx context.Context, c ports.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_id, prefix, hash, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Prefix, c.Hash, nullTime(c.RevokedAt), c.CreatedAt.UTC())
	if err != nil {
		return storeErr("insert credential", err)
	}
	return nil
}

// GetByPrefix returns every credential sharing the token prefix. The
// caller compares hashes to pick the match.
func (s *CredentialStore) GetByPrefix(ctx context.Context, prefix string) ([]ports.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, prefix, hash, revoked_at, created_at
		FROM credentials WHERE prefix = ?`, prefix)
	if err != nil {
		return nil, storeErr("query credentials", err)
	}
	defer rows.Close()

	var creds []ports.Credential
	for rows.Next() {
		var c ports.Credential
		var revoked sql.NullTime
		if err := rows.Scan(&c.ID, &c.UserID, &c.Prefix, &c.Hash, &revoked, &c.CreatedAt); err != nil {
			return nil, storeErr("scan credential", err)
		}
		if revoked.Valid {
			t := revoked.Time.UTC()
			c.RevokedAt = &t
		}
		c.CreatedAt = c.CreatedAt.UTC()
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query credentials", err)
	}
	return creds, nil
}

func (s *CredentialStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		at.UTC(), id)
	if err != nil {
		return storeErr("revoke credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("revoke credential", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var _ ports.CredentialStore = (*CredentialStore)(nil)
