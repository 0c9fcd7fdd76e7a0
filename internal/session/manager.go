// Package session drives authentication against the API and keeps the
// published session state consistent with the token store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/hay-kot/sublet/internal/api"
	"github.com/hay-kot/sublet/internal/core/auth"
	"github.com/hay-kot/sublet/pkg/broadcast"
)

// Connected is the result of a successful health check.
const Connected = "connected"

// API is the part of the HTTP client the manager depends on.
type API interface {
	Health(ctx context.Context) (api.HealthStatus, error)
	Signup(ctx context.Context, in api.SignupRequest) (api.User, error)
	Login(ctx context.Context, email, password string) (*oauth2.Token, error)
	Me(ctx context.Context, token string) (api.User, error)
}

// AuthenticateOptions configures Authenticate.
type AuthenticateOptions struct {
	// Register attempts to create the account before logging in. An account
	// that already exists is not an error.
	Register bool
}

// Manager owns the session state machine. The token store is the source of
// truth: values it emits override local state.
type Manager struct {
	store auth.TokenStore
	api   API
	log   zerolog.Logger
	state *broadcast.Broadcaster[auth.SessionState]

	// authMu serializes Authenticate and SignOut.
	authMu sync.Mutex

	// syncMu orders sign-out against adopting a token from the store, so a
	// token emitted before a clear cannot be adopted after it.
	syncMu sync.Mutex

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Manager. Call Start before using it.
func New(store auth.TokenStore, client API, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		api:   client,
		log:   log,
		state: broadcast.New(auth.Unauthenticated()),
	}
}

// Start subscribes to the token store. It adopts the store's current value
// before returning and follows later values in a background goroutine that
// runs until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.started {
		return errors.New("session manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	tokens := m.store.Observe(runCtx)

	select {
	case t, ok := <-tokens:
		if !ok {
			cancel()
			return errors.New("token store closed")
		}
		m.adopt(t)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	m.started = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.follow(tokens)

	return nil
}

// Close stops following the store and closes all session observers.
func (m *Manager) Close() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.started {
		m.cancel()
		<-m.done
		m.started = false
	}
	m.state.Close()
	return nil
}

func (m *Manager) follow(tokens <-chan auth.NullToken) {
	defer close(m.done)

	for t := range tokens {
		m.adopt(t)
	}
}

// adopt applies a value emitted by the store. While a login is in flight an
// absent token does not abort it, and a sign-out finishes on its own.
func (m *Manager) adopt(t auth.NullToken) {
	if t.Valid && m.State() != auth.Authenticated(t.Token) {
		m.syncMu.Lock()
		defer m.syncMu.Unlock()

		// The emission may predate a sign-out; the store has the final word.
		current, err := m.store.Load(context.Background())
		if err != nil {
			m.log.Debug().Err(err).Msg("confirm store value")
		} else {
			t = current
		}
	}

	next := m.state.Update(func(cur auth.SessionState) (auth.SessionState, bool) {
		switch cur.State {
		case auth.StateAuthenticating:
			if !t.Valid {
				return cur, false
			}
		case auth.StateSigningOut:
			return cur, false
		}

		next := auth.FromToken(t)
		return next, next != cur
	})

	m.log.Debug().Stringer("state", next.State).Msg("adopted store value")
}

// Observe returns a channel that yields the current session state and every
// later transition. The channel is closed when ctx is done or the manager is
// closed.
func (m *Manager) Observe(ctx context.Context) <-chan auth.SessionState {
	return m.state.Subscribe(ctx)
}

// State returns the current session state.
func (m *Manager) State() auth.SessionState {
	return m.state.Value()
}

// Authenticate optionally registers, then logs in with creds, persists the
// issued token and transitions to authenticated. On failure the state returns
// to unauthenticated, the store is left untouched and the error is an
// *auth.AuthError (API failures) or *auth.StoreError (persistence failures).
func (m *Manager) Authenticate(ctx context.Context, creds auth.Credentials, opts AuthenticateOptions) (string, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return "", auth.ErrMissingCredentials
	}

	if !m.authMu.TryLock() {
		return "", auth.ErrAuthInProgress
	}
	defer m.authMu.Unlock()

	if m.State().IsAuthenticated() {
		return "", auth.ErrAlreadyAuthenticated
	}

	m.state.Publish(auth.SessionState{State: auth.StateAuthenticating})
	log := m.log.With().Str("email", creds.Email).Logger()

	token, err := m.login(ctx, log, creds, opts)
	if err != nil {
		m.state.Update(func(cur auth.SessionState) (auth.SessionState, bool) {
			if cur.State != auth.StateAuthenticating {
				return cur, false
			}
			return auth.Unauthenticated(), true
		})
		log.Warn().Err(err).Msg("authentication failed")
		return "", err
	}

	m.state.Update(func(cur auth.SessionState) (auth.SessionState, bool) {
		next := auth.Authenticated(token)
		return next, next != cur
	})
	log.Info().Msg("authenticated")

	return token, nil
}

func (m *Manager) login(ctx context.Context, log zerolog.Logger, creds auth.Credentials, opts AuthenticateOptions) (string, error) {
	if opts.Register {
		user, err := m.api.Signup(ctx, api.SignupRequest{
			Email:    creds.Email,
			Password: creds.Password,
			Name:     creds.Name,
		})
		switch {
		case err == nil:
			log.Info().Int("user_id", user.ID).Msg("account created")
		case api.IsAccountExists(err):
			log.Debug().Err(err).Msg("account already exists, continuing to login")
		default:
			return "", classify(fmt.Errorf("sign up: %w", err))
		}
	}

	tok, err := m.api.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return "", classify(fmt.Errorf("log in: %w", err))
	}

	if err := m.store.Save(ctx, tok.AccessToken); err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// SignOut clears the store and transitions to unauthenticated. The transition
// happens even when clearing fails; the store error is still returned.
func (m *Manager) SignOut(ctx context.Context) error {
	m.authMu.Lock()
	defer m.authMu.Unlock()

	m.syncMu.Lock()
	if m.State().State == auth.StateAuthenticated {
		m.state.Publish(auth.SessionState{State: auth.StateSigningOut})
	}

	err := m.store.Clear(ctx)
	m.state.Publish(auth.Unauthenticated())
	m.syncMu.Unlock()

	if err != nil {
		m.log.Warn().Err(err).Msg("signed out, but clearing the token store failed")
		return err
	}

	m.log.Info().Msg("signed out")
	return nil
}

// CheckHealth pings the API liveness endpoint.
func (m *Manager) CheckHealth(ctx context.Context) (string, error) {
	if _, err := m.api.Health(ctx); err != nil {
		var se *api.StatusError
		if errors.As(err, &se) {
			return "", &auth.HealthError{Kind: auth.ErrServerError, Code: se.Code, Err: err}
		}
		return "", &auth.HealthError{Kind: auth.ErrUnreachable, Err: err}
	}
	return Connected, nil
}

// WhoAmI returns the account that owns the current token.
func (m *Manager) WhoAmI(ctx context.Context) (api.User, error) {
	s := m.State()
	if !s.IsAuthenticated() {
		return api.User{}, auth.ErrNotAuthenticated
	}

	user, err := m.api.Me(ctx, s.Token)
	if err != nil {
		return api.User{}, classify(err)
	}
	return user, nil
}

// Claims returns the unverified claims of the current token.
func (m *Manager) Claims() (auth.Claims, error) {
	s := m.State()
	if !s.IsAuthenticated() {
		return auth.Claims{}, auth.ErrNotAuthenticated
	}
	return auth.ParseClaims(s.Token)
}

// classify maps an API client error onto the auth error taxonomy.
func classify(err error) *auth.AuthError {
	var se *api.StatusError
	switch {
	case errors.As(err, &se):
		return &auth.AuthError{Kind: auth.ErrServerError, Code: se.Code, Err: err}
	case errors.Is(err, api.ErrMalformedResponse):
		return &auth.AuthError{Kind: auth.ErrMalformedResponse, Err: err}
	default:
		return &auth.AuthError{Kind: auth.ErrUnreachable, Err: err}
	}
}
