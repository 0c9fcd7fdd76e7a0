package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/hay-kot/sublet/internal/api"
	"github.com/hay-kot/sublet/internal/apitest"
	"github.com/hay-kot/sublet/internal/core/auth"
	"github.com/hay-kot/sublet/internal/store/jsonfile"
	"github.com/hay-kot/sublet/pkg/broadcast"
)

var creds = auth.Credentials{Email: "test@example.com", Password: "password", Name: "Test User"}

// memStore implements auth.TokenStore in memory with injectable failures.
type memStore struct {
	value    *broadcast.Broadcaster[auth.NullToken]
	saveErr  error
	clearErr error
}

func newMemStore() *memStore {
	return &memStore{value: broadcast.New(auth.None())}
}

func (s *memStore) Observe(ctx context.Context) <-chan auth.NullToken {
	return s.value.Subscribe(ctx)
}

func (s *memStore) Load(_ context.Context) (auth.NullToken, error) {
	return s.value.Value(), nil
}

func (s *memStore) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return &auth.StoreError{Op: "save", Err: err}
	}
	if s.saveErr != nil {
		return &auth.StoreError{Op: "save", Err: s.saveErr}
	}
	s.value.Publish(auth.Some(token))
	return nil
}

func (s *memStore) Clear(_ context.Context) error {
	if s.clearErr != nil {
		return &auth.StoreError{Op: "clear", Err: s.clearErr}
	}
	s.value.Publish(auth.None())
	return nil
}

// stubAPI implements API with per-call hooks.
type stubAPI struct {
	login  func(ctx context.Context) (*oauth2.Token, error)
	signup func(ctx context.Context) error
}

func (a *stubAPI) Health(context.Context) (api.HealthStatus, error) {
	return api.HealthStatus{Status: "ok"}, nil
}

func (a *stubAPI) Signup(ctx context.Context, _ api.SignupRequest) (api.User, error) {
	if a.signup != nil {
		return api.User{}, a.signup(ctx)
	}
	return api.User{}, nil
}

func (a *stubAPI) Login(ctx context.Context, _, _ string) (*oauth2.Token, error) {
	return a.login(ctx)
}

func (a *stubAPI) Me(context.Context, string) (api.User, error) {
	return api.User{}, nil
}

func newClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	c, err := api.New(api.Config{BaseURL: baseURL, Timeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func newFileStore(t *testing.T) *jsonfile.TokenStore {
	t.Helper()
	store := jsonfile.NewTokenStore(filepath.Join(t.TempDir(), "auth.json"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func startManager(t *testing.T, store auth.TokenStore, client API) *Manager {
	t.Helper()
	m := New(store, client, zerolog.Nop())
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitForState(t *testing.T, m *Manager, want auth.SessionState) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return m.State() == want
	}, 2*time.Second, 10*time.Millisecond, "want state %v", want)
}

func TestAuthenticate_Success(t *testing.T) {
	srv := apitest.New(t, apitest.WithAccount(creds.Email, creds.Password, creds.Name))
	store := newFileStore(t)
	m := startManager(t, store, newClient(t, srv.URL))

	states := m.Observe(t.Context())
	assert.Equal(t, auth.Unauthenticated(), <-states)

	token, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.Equal(t, auth.Authenticated(token), m.State())

	var last auth.SessionState
	require.Eventually(t, func() bool {
		select {
		case last = <-states:
		default:
		}
		return last == auth.Authenticated(token)
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth.Some(token), stored)

	assert.Equal(t, 0, srv.Calls("signup"))
}

func TestAuthenticate_RegistersNewAccount(t *testing.T) {
	srv := apitest.New(t)
	m := startManager(t, newFileStore(t), newClient(t, srv.URL))

	_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{Register: true})
	require.NoError(t, err)

	assert.True(t, srv.HasAccount(creds.Email))
	assert.True(t, m.State().IsAuthenticated())
}

func TestAuthenticate_ExistingAccountContinues(t *testing.T) {
	srv := apitest.New(t, apitest.WithAccount(creds.Email, creds.Password, ""))
	m := startManager(t, newFileStore(t), newClient(t, srv.URL))

	_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{Register: true})
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Calls("signup"))
	assert.Equal(t, 1, srv.Calls("login"))
	assert.True(t, m.State().IsAuthenticated())
}

func TestAuthenticate_SignupEmptyBodyStillLogsIn(t *testing.T) {
	for _, body := range []string{"", "<html>created</html>"} {
		srv := apitest.New(t,
			apitest.WithAccount(creds.Email, creds.Password, ""),
			apitest.WithResponse("signup", http.StatusCreated, body),
		)
		m := startManager(t, newFileStore(t), newClient(t, srv.URL))

		_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{Register: true})
		require.NoError(t, err, "body %q", body)

		assert.Equal(t, 1, srv.Calls("signup"))
		assert.Equal(t, 1, srv.Calls("login"))
		assert.True(t, m.State().IsAuthenticated())
	}
}

func TestAuthenticate_SignupFailureStops(t *testing.T) {
	srv := apitest.New(t, apitest.WithResponse("signup", http.StatusInternalServerError, `{"detail":"boom"}`))
	store := newFileStore(t)
	m := startManager(t, store, newClient(t, srv.URL))

	_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{Register: true})

	var authErr *auth.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, auth.ErrServerError)
	assert.Equal(t, http.StatusInternalServerError, authErr.Code)
	assert.Equal(t, 0, srv.Calls("login"))
	assert.Equal(t, auth.Unauthenticated(), m.State())
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		route    string
		status   int
		body     string
		wantKind error
		wantCode int
	}{
		{
			name:     "wrong password",
			route:    "login",
			status:   http.StatusUnauthorized,
			body:     `{"detail":"Incorrect email or password"}`,
			wantKind: auth.ErrServerError,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "server error",
			route:    "login",
			status:   http.StatusInternalServerError,
			body:     `{}`,
			wantKind: auth.ErrServerError,
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "missing token field",
			route:    "login",
			status:   http.StatusOK,
			body:     `{"token_type":"bearer"}`,
			wantKind: auth.ErrMalformedResponse,
		},
		{
			name:     "not json",
			route:    "login",
			status:   http.StatusOK,
			body:     `<html>`,
			wantKind: auth.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := apitest.New(t, apitest.WithResponse(tt.route, tt.status, tt.body))
			store := newFileStore(t)
			m := startManager(t, store, newClient(t, srv.URL))

			_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{})

			var authErr *auth.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantCode, authErr.Code)

			assert.Equal(t, auth.Unauthenticated(), m.State())
			stored, loadErr := store.Load(context.Background())
			require.NoError(t, loadErr)
			assert.False(t, stored.Valid, "store must be untouched")
		})
	}
}

func TestAuthenticate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := startManager(t, newFileStore(t), newClient(t, url))

	_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{})
	assert.ErrorIs(t, err, auth.ErrUnreachable)
	assert.Equal(t, auth.Unauthenticated(), m.State())
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	m := startManager(t, newMemStore(), &stubAPI{})

	_, err := m.Authenticate(context.Background(), auth.Credentials{Email: "  "}, AuthenticateOptions{})
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)
}

func TestAuthenticate_AlreadyAuthenticated(t *testing.T) {
	store := newMemStore()
	store.value.Publish(auth.Some("existing"))
	m := startManager(t, store, &stubAPI{})

	_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{})
	assert.ErrorIs(t, err, auth.ErrAlreadyAuthenticated)
}

func TestAuthenticate_InProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stub := &stubAPI{
		login: func(ctx context.Context) (*oauth2.Token, error) {
			close(entered)
			<-release
			return &oauth2.Token{AccessToken: "tok"}, nil
		},
	}
	m := startManager(t, newMemStore(), stub)

	done := make(chan error, 1)
	go func() {
		_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{})
		done <- err
	}()

	<-entered
	assert.Equal(t, auth.StateAuthenticating, m.State().State)

	_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{})
	assert.ErrorIs(t, err, auth.ErrAuthInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, auth.Authenticated("tok"), m.State())
}

func TestAuthenticate_AbandonedBeforeSave(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubAPI{
		login: func(context.Context) (*oauth2.Token, error) {
			cancel()
			return &oauth2.Token{AccessToken: "tok"}, nil
		},
	}
	m := startManager(t, store, stub)

	_, err := m.Authenticate(ctx, creds, AuthenticateOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	stored, _ := store.Load(context.Background())
	assert.False(t, stored.Valid)
	assert.Equal(t, auth.Unauthenticated(), m.State())
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	stub := &stubAPI{
		login: func(context.Context) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "tok"}, nil
		},
	}
	m := startManager(t, store, stub)

	_, err := m.Authenticate(context.Background(), creds, AuthenticateOptions{})

	var storeErr *auth.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, auth.Unauthenticated(), m.State())
}

func TestStart_AdoptsStoredToken(t *testing.T) {
	store := newFileStore(t)
	require.NoError(t, store.Save(context.Background(), "persisted"))

	m := startManager(t, store, &stubAPI{})
	assert.Equal(t, auth.Authenticated("persisted"), m.State())
}

func TestStart_Twice(t *testing.T) {
	m := startManager(t, newMemStore(), &stubAPI{})
	assert.Error(t, m.Start(context.Background()))
}

func TestManager_FollowsExternalStoreChanges(t *testing.T) {
	store := newFileStore(t)
	m := startManager(t, store, &stubAPI{})

	require.NoError(t, store.Save(context.Background(), "from-elsewhere"))
	waitForState(t, m, auth.Authenticated("from-elsewhere"))

	require.NoError(t, store.Clear(context.Background()))
	waitForState(t, m, auth.Unauthenticated())
}

// scriptedStore delivers exactly the values fed to it while Load reports
// what is actually stored.
type scriptedStore struct {
	*memStore
	feed chan auth.NullToken
}

func newScriptedStore(stored auth.NullToken) *scriptedStore {
	s := &scriptedStore{memStore: newMemStore(), feed: make(chan auth.NullToken)}
	s.value.Publish(stored)
	return s
}

func (s *scriptedStore) Observe(ctx context.Context) <-chan auth.NullToken {
	out := make(chan auth.NullToken)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-s.feed:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func TestManager_IgnoresTokenClearedBeforeAdoption(t *testing.T) {
	store := newScriptedStore(auth.None())
	go func() { store.feed <- auth.None() }()
	m := startManager(t, store, &stubAPI{})

	// Three sends guarantee the first emission has been fully adopted.
	for range 3 {
		store.feed <- auth.Some("cleared-elsewhere")
	}

	assert.Equal(t, auth.Unauthenticated(), m.State())
}

func TestManager_AdoptsStoredValueOverEmission(t *testing.T) {
	store := newScriptedStore(auth.Some("fresh"))
	go func() { store.feed <- auth.None() }()
	m := startManager(t, store, &stubAPI{})

	store.feed <- auth.Some("stale")
	waitForState(t, m, auth.Authenticated("fresh"))
}

func TestSignOut_RacingStaleEmissionConverges(t *testing.T) {
	store := newFileStore(t)
	m := startManager(t, store, &stubAPI{})

	for i := range 20 {
		require.NoError(t, store.Save(context.Background(), fmt.Sprintf("token-%d", i)))
		require.NoError(t, m.SignOut(context.Background()))
		assert.Equal(t, auth.Unauthenticated(), m.State())
	}

	assert.Never(t, func() bool {
		return m.State().IsAuthenticated()
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestSignOut_Twice(t *testing.T) {
	store := newFileStore(t)
	require.NoError(t, store.Save(context.Background(), "tok"))
	m := startManager(t, store, &stubAPI{})
	require.True(t, m.State().IsAuthenticated())

	require.NoError(t, m.SignOut(context.Background()))
	require.NoError(t, m.SignOut(context.Background()))

	assert.Equal(t, auth.Unauthenticated(), m.State())
	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, stored.Valid)
}

func TestSignOut_StoreFailureStillSignsOut(t *testing.T) {
	store := newMemStore()
	store.value.Publish(auth.Some("tok"))
	store.clearErr = errors.New("permission denied")
	m := startManager(t, store, &stubAPI{})

	err := m.SignOut(context.Background())

	var storeErr *auth.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, auth.Unauthenticated(), m.State())
}

func TestCheckHealth(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		srv := apitest.New(t)
		m := startManager(t, newMemStore(), newClient(t, srv.URL))

		got, err := m.CheckHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Connected, got)
	})

	t.Run("server error", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithResponse("health", http.StatusServiceUnavailable, `{}`))
		m := startManager(t, newMemStore(), newClient(t, srv.URL))

		_, err := m.CheckHealth(context.Background())

		var healthErr *auth.HealthError
		require.ErrorAs(t, err, &healthErr)
		assert.ErrorIs(t, err, auth.ErrServerError)
		assert.Equal(t, http.StatusServiceUnavailable, healthErr.Code)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		m := startManager(t, newMemStore(), newClient(t, url))

		_, err := m.CheckHealth(context.Background())
		assert.ErrorIs(t, err, auth.ErrUnreachable)
	})
}

func TestWhoAmI(t *testing.T) {
	srv := apitest.New(t, apitest.WithAccount(creds.Email, creds.Password, creds.Name))
	m := startManager(t, newFileStore(t), newClient(t, srv.URL))

	_, err := m.WhoAmI(context.Background())
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = m.Authenticate(context.Background(), creds, AuthenticateOptions{})
	require.NoError(t, err)

	user, err := m.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, creds.Email, user.Email)
	assert.Equal(t, creds.Name, user.Name)

	claims, err := m.Claims()
	require.NoError(t, err)
	assert.Equal(t, creds.Email, claims.Subject)
	assert.False(t, claims.ExpiresAt.IsZero())
}

func TestClose_EndsObservers(t *testing.T) {
	m := New(newMemStore(), &stubAPI{}, zerolog.Nop())
	require.NoError(t, m.Start(context.Background()))

	ch := m.Observe(context.Background())
	<-ch

	require.NoError(t, m.Close())
	_, ok := <-ch
	assert.False(t, ok)
}
