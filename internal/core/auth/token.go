// Package auth defines the session domain: tokens, credentials, session
// states, the error taxonomy and the interfaces the session manager depends on.
package auth

import "context"

// KeyAccessToken is the store key that holds the bearer token.
const KeyAccessToken = "access_token"

// NullToken is a session token that may be absent. Valid is false when no
// session exists.
type NullToken struct {
	Token string
	Valid bool
}

// Some returns a present token.
func Some(token string) NullToken {
	return NullToken{Token: token, Valid: true}
}

// None returns an absent token.
func None() NullToken {
	return NullToken{}
}

// Credentials are used to sign up or log in. They are never persisted.
type Credentials struct {
	Email    string
	Password string
	Name     string
}

// TokenStore is durable storage for zero or one session token.
type TokenStore interface {
	// Observe emits the current token on subscription and again after every
	// Save or Clear. The channel is closed when ctx is done.
	Observe(ctx context.Context) <-chan NullToken
	// Load returns the stored token.
	Load(ctx context.Context) (NullToken, error)
	// Save atomically replaces the stored token.
	Save(ctx context.Context, token string) error
	// Clear atomically removes the stored token. Clearing an empty store is
	// not an error.
	Clear(ctx context.Context) error
}
