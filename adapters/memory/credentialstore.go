package memory

import (
	"context"
	"sync"
	"time"

	"github.com/plateful/spendgate/ports"
)

// CredentialStore implements ports.CredentialStore with a map.
type CredentialStore struct {
	mu    sync.Mutex
	creds map[string]ports.Credential

	// FailWith, when set, makes every call fail.
	FailWith error
}

// NewCredentialStore creates an empty in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]ports.Credential)}
}

// GetByPrefix retrieves credentials matching a token prefix.
func (s *CredentialStore) GetByPrefix(ctx context.Context, prefix string) ([]ports.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return nil, s.FailWith
	}

	var out []ports.Credential
	for _, c := range s.creds {
		if c.Prefix == prefix {
			out = append(out, c)
		}
	}
	return out, nil
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, c ports.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	s.creds[c.ID] = c
	return nil
}

// Revoke marks a credential as revoked.
func (s *CredentialStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	c, ok := s.creds[id]
	if !ok || c.RevokedAt != nil {
		return ports.ErrNotFound
	}
	c.RevokedAt = &at
	s.creds[id] = c
	return nil
}

// Ensure interface compliance.
var _ ports.CredentialStore = (*CredentialStore)(nil)
