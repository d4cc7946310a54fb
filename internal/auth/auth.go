// Package auth implements bearer-token authentication against the local
// identity store, password hashing, and login endpoints.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated caller stored in the request context.
type Identity struct {
	ID          int64
	Username    string
	IsActive    bool
	IsAdmin     bool
	Scopes      string
	TokenExpiry *time.Time
}

// IdentitySource resolves bearer tokens to identities.
type IdentitySource interface {
	IdentityByToken(ctx context.Context, token uuid.UUID) (*Identity, error)
}

// CredentialSource authenticates usernames and manages issued tokens.
type CredentialSource interface {
	// CredentialsByUsername returns the identity and its encoded password hash.
	CredentialsByUsername(ctx context.Context, username string) (*Identity, string, error)
	SetToken(ctx context.Context, userID int64, token uuid.UUID, expiry time.Time) error
	ClearToken(ctx context.Context, userID int64) error
}

type contextKey struct{}

// NewContext returns a context carrying the identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity from the context, or nil.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextKey{}).(*Identity); ok {
		return id
	}
	return nil
}
