package auth

import "encoding/json"

// State is the lifecycle state of the local session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateSigningOut
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSigningOut:
		return "signing_out"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SessionState is the value published to session observers. Token is only
// set in StateAuthenticated.
type SessionState struct {
	State State
	Token string
}

// Unauthenticated returns the signed-out session state.
func Unauthenticated() SessionState {
	return SessionState{State: StateUnauthenticated}
}

// Authenticated returns the signed-in session state for token.
func Authenticated(token string) SessionState {
	return SessionState{State: StateAuthenticated, Token: token}
}

// FromToken maps a stored token to the session state it implies.
func FromToken(t NullToken) SessionState {
	if t.Valid {
		return Authenticated(t.Token)
	}
	return Unauthenticated()
}

// IsAuthenticated reports whether the session holds a token.
func (s SessionState) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.Token != ""
}
