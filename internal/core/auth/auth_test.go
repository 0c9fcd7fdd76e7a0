package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnauthenticated, "unauthenticated"},
		{StateAuthenticating, "authenticating"},
		{StateAuthenticated, "authenticated"},
		{StateSigningOut, "signing_out"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestFromToken(t *testing.T) {
	assert.Equal(t, Unauthenticated(), FromToken(None()))
	assert.Equal(t, Authenticated("abc"), FromToken(Some("abc")))
	assert.True(t, FromToken(Some("abc")).IsAuthenticated())
	assert.False(t, FromToken(None()).IsAuthenticated())
}

func TestAuthError_Kinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    error
		notKind error
		message string
	}{
		{
			name:    "unreachable",
			err:     &AuthError{Kind: ErrUnreachable, Err: errors.New("connection refused")},
			kind:    ErrUnreachable,
			notKind: ErrServerError,
			message: "authentication failed: unreachable: connection refused",
		},
		{
			name:    "server error without cause",
			err:     &AuthError{Kind: ErrServerError, Code: 401},
			kind:    ErrServerError,
			notKind: ErrMalformedResponse,
			message: "authentication failed: server error (401)",
		},
		{
			name:    "malformed",
			err:     &AuthError{Kind: ErrMalformedResponse},
			kind:    ErrMalformedResponse,
			notKind: ErrUnreachable,
			message: "authentication failed: malformed response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("login: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			assert.NotErrorIs(t, wrapped, tt.notKind)
			assert.EqualError(t, tt.err, tt.message)

			var authErr *AuthError
			require.ErrorAs(t, wrapped, &authErr)
		})
	}
}

func TestHealthError(t *testing.T) {
	err := &HealthError{Kind: ErrServerError, Code: 503}
	assert.ErrorIs(t, err, ErrServerError)
	assert.EqualError(t, err, "health check failed: server error (503)")
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &StoreError{Op: "save", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "token store save: disk full")
}

func TestParseClaims(t *testing.T) {
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := issued.Add(30 * time.Minute)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user@example.com",
		"iat": issued.Unix(),
		"exp": expires.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := ParseClaims(token)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", claims.Subject)
	assert.True(t, claims.IssuedAt.Equal(issued))
	assert.True(t, claims.ExpiresAt.Equal(expires))
	assert.False(t, claims.Expired(issued))
	assert.True(t, claims.Expired(expires.Add(time.Second)))
}

func TestParseClaims_Opaque(t *testing.T) {
	_, err := ParseClaims("abc123")
	assert.Error(t, err)
}
