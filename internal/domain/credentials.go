package domain

import (
	"context"
	"errors"
	"time"
)

// ErrCredentialsNotFound is returned when a user has no usable credentials:
// none stored, or stored ones expired and could not be refreshed.
var ErrCredentialsNotFound = errors.New("strava credentials not found")

// TokenBundle is the decrypted OAuth token set for a user.
type TokenBundle struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Expired reports whether the access token's expiry has passed.
func (b TokenBundle) Expired(now time.Time) bool {
	return b.ExpiresAt < now.Unix()
}

// CredentialStore is the single source of truth for a user's Strava tokens.
// Fetch refreshes transparently and fails closed: it never returns a bundle
// known to be expired and unrefreshable.
type CredentialStore interface {
	Store(ctx context.Context, userID string, bundle TokenBundle) error
	Fetch(ctx context.Context, userID string, forceRefresh bool) (*TokenBundle, error)
}

// TokenRefresher exchanges a refresh token for a fresh bundle.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenBundle, error)
}
