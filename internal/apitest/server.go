// Package apitest runs an in-process fake of the Easy Sublet API for tests.
//
// It mirrors the backend's observable behavior: bcrypt-hashed accounts,
// 400 "Email already registered" on duplicate sign-up, an OAuth2 password form
// on /auth/login that issues HS256 JWTs, and bearer-protected /auth/me.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// TokenTTL is the lifetime of issued access tokens.
const TokenTTL = 30 * time.Minute

type account struct {
	ID           int
	Email        string
	Name         string
	PasswordHash []byte
}

// Response is a canned reply that replaces a route's normal behavior.
type Response struct {
	Status int
	Body   string
}

// Server is a fake API server. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	secret []byte

	mu        sync.Mutex
	accounts  map[string]account
	nextID    int
	overrides map[string]Response
	calls     map[string]int
}

// Option configures a Server.
type Option func(*Server)

// WithAccount pre-registers an account.
func WithAccount(email, password, name string) Option {
	return func(s *Server) {
		s.addAccount(email, password, name)
	}
}

// WithResponse makes route answer with a fixed status and body. Routes are
// named "health", "signup", "login" and "me".
func WithResponse(route string, status int, body string) Option {
	return func(s *Server) {
		s.overrides[route] = Response{Status: status, Body: body}
	}
}

// New starts a fake server that is shut down when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		secret:    []byte(uuid.NewString()),
		accounts:  make(map[string]account),
		nextID:    1,
		overrides: make(map[string]Response),
		calls:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)

	return s
}

// SetResponse installs or replaces a canned reply for route.
func (s *Server) SetResponse(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[route] = Response{Status: status, Body: body}
}

// Calls returns how many times route was hit.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// HasAccount reports whether email is registered.
func (s *Server) HasAccount(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[strings.ToLower(email)]
	return ok
}

// IssueToken mints an access token for email as /auth/login would.
func (s *Server) IssueToken(email string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.route("health", s.handleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/auth/signup", s.route("signup", s.handleSignup)).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.route("login", s.handleLogin)).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.route("me", s.handleMe)).Methods(http.MethodGet)
	return r
}

// route counts calls and applies canned responses before handing off to h.
func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		override, ok := s.overrides[name]
		s.mu.Unlock()

		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(override.Status)
			_, _ = w.Write([]byte(override.Body))
			return
		}

		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if !strings.Contains(in.Email, "@") || in.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{
				{"loc": []string{"body", "email"}, "msg": "value is not a valid email address"},
			},
		})
		return
	}

	if s.HasAccount(in.Email) {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}

	acct := s.addAccount(in.Email, in.Password, in.Name)
	writeJSON(w, http.StatusOK, userOut(acct))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}

	email := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	token, err := s.IssueToken(acct.Email)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(claims.Subject)]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	writeJSON(w, http.StatusOK, userOut(acct))
}

func (s *Server) addAccount(email, password, name string) account {
	// MinCost: these hashes only live for the length of a test.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := account{
		ID:           s.nextID,
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	}
	s.nextID++
	s.accounts[strings.ToLower(email)] = acct
	return acct
}

func userOut(a account) map[string]any {
	out := map[string]any{"id": a.ID, "email": a.Email, "name": nil}
	if a.Name != "" {
		out["name"] = a.Name
	}
	return out
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
