// Package identity resolves the calling user for a request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/plateful/spendgate/ports"
)

// TokenPrefix is the fixed leading marker of every issued token.
const TokenPrefix = "sg_"

// lookupLen is the number of leading characters stored in clear for
// credential lookup.
const lookupLen = 12

type ctxKey struct{}

// WithToken stores the raw bearer token on the context for the
// identity adapter to resolve.
func WithToken(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, ctxKey{}, raw)
}

func tokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(ctxKey{}).(string)
	return raw
}

// Static resolves every request to a fixed user. Used for single-user
// deployments where the process itself is the trust boundary.
type Static struct {
	UserID string
}

func (s Static) CurrentUserID(ctx context.Context) (string, error) {
	if s.UserID == "" {
		return "", ports.ErrUnauthenticated
	}
	return s.UserID, nil
}

func (s Static) Ping(ctx context.Context) error { return nil }

// TokenAuth resolves users from bearer tokens backed by bcrypt-hashed
// credentials. Tokens are looked up by their clear prefix, then the
// full value is compared against each candidate hash.
type TokenAuth struct {
	Creds ports.CredentialStore
	Clock ports.Clock
}

// NewTokenAuth creates a token-based identity resolver.
func NewTokenAuth(creds ports.CredentialStore, clock ports.Clock) *TokenAuth {
	return &TokenAuth{Creds: creds, Clock: clock}
}

func (t *TokenAuth) CurrentUserID(ctx context.Context) (string, error) {
	raw := tokenFromContext(ctx)
	prefix, ok := validateFormat(raw)
	if !ok {
		return "", ports.ErrUnauthenticated
	}

	creds, err := t.Creds.GetByPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("credential lookup: %w", err)
	}

	for _, c := range creds {
		if c.RevokedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword(c.Hash, []byte(raw)) == nil {
			return c.UserID, nil
		}
	}
	return "", ports.ErrUnauthenticated
}

// Ping exercises the credential store with a lookup that cannot match.
func (t *TokenAuth) Ping(ctx context.Context) error {
	_, err := t.Creds.GetByPrefix(ctx, TokenPrefix+"probe0000")
	return err
}

// validateFormat checks the token shape and returns the lookup prefix.
func validateFormat(raw string) (string, bool) {
	if !strings.HasPrefix(raw, TokenPrefix) {
		return "", false
	}
	if len(raw) < len(TokenPrefix)+64 {
		return "", false
	}
	return raw[:lookupLen], true
}

// Mint generates a fresh token and the credential row to persist for
// it. The raw token is shown once and never stored.
func Mint(id, userID string, clock ports.Clock) (raw string, cred ports.Credential, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", ports.Credential{}, fmt.Errorf("generate token: %w", err)
	}
	raw = TokenPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", ports.Credential{}, fmt.Errorf("hash token: %w", err)
	}

	return raw, ports.Credential{
		ID:        id,
		UserID:    userID,
		Prefix:    raw[:lookupLen],
		Hash:      hash,
		CreatedAt: clock.Now(),
	}, nil
}

// Ensure interface compliance.
var (
	_ ports.Identity = Static{}
	_ ports.Identity = (*TokenAuth)(nil)
)
