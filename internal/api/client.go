// Package api is the HTTP client for the Easy Sublet API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	// DefaultTimeout bounds every request, including retries.
	DefaultTimeout = 10 * time.Second

	maxBodySize = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string `json:"status"`
}

// User is an account as returned by sign-up and /auth/me.
type User struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// tokenResponse is the body of POST /auth/login.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// Client calls the Easy Sublet API.
type Client struct {
	base    *url.URL
	timeout time.Duration
	http    *retryablehttp.Client
	log     zerolog.Logger
}

// New creates a Client. Connection errors and 5xx responses are retried up to
// cfg.RetryMax times; the final response is always handed back to the caller.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	waitMin, waitMax := cfg.RetryWaitMin, cfg.RetryWaitMax
	if waitMin <= 0 {
		waitMin = 250 * time.Millisecond
	}
	if waitMax < waitMin {
		waitMax = 2 * waitMin
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout

	return &Client{
		base:    base,
		timeout: timeout,
		log:     log,
		http: &retryablehttp.Client{
			HTTPClient:   httpClient,
			Logger:       leveledLogger{log: log},
			RetryWaitMin: waitMin,
			RetryWaitMax: waitMax,
			RetryMax:     cfg.RetryMax,
			Backoff:      retryablehttp.LinearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Health calls GET /health. Any 2xx response is healthy; the body is decoded
// when it is JSON.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "health", nil, nil)
	if err != nil {
		return HealthStatus{}, err
	}

	var status HealthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		c.log.Debug().Err(err).Msg("health body is not json")
	}
	return status, nil
}

// Signup calls POST /auth/signup. The returned User is zero when a 2xx
// response carries no decodable body.
func (c *Client) Signup(ctx context.Context, in SignupRequest) (User, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return User{}, fmt.Errorf("marshal signup request: %w", err)
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	body, err := c.do(ctx, http.MethodPost, "auth/signup", payload, header)
	if err != nil {
		return User{}, err
	}

	// Any 2xx means the account exists; the body is informational.
	var user User
	if len(body) > 0 {
		if err := json.Unmarshal(body, &user); err != nil {
			c.log.Debug().Err(err).Msg("signup body is not a user")
			user = User{}
		}
	}
	return user, nil
}

// Login calls POST /auth/login with an OAuth2 password-grant form and returns
// the issued bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {email},
		"password":   {password},
	}

	header := http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}
	body, err := c.do(ctx, http.MethodPost, "auth/login", []byte(form.Encode()), header)
	if err != nil {
		return nil, err
	}

	return ParseTokenResponse(body)
}

// Me calls GET /auth/me as the holder of token.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}

	body, err := c.doWith(ctx, http.MethodGet, "auth/me", nil, nil, tok.SetAuthHeader)
	if err != nil {
		return User{}, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return User{}, fmt.Errorf("%w: decode user: %v", ErrMalformedResponse, err)
	}
	return user, nil
}

// ParseTokenResponse decodes a login response body into a token. The body
// must be a JSON object with a non-empty access_token; other fields are
// ignored.
func ParseTokenResponse(body []byte) (*oauth2.Token, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return tok, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, header http.Header) ([]byte, error) {
	return c.doWith(ctx, method, path, payload, header, nil)
}

// doWith sends a request under the client deadline and returns the body of a
// 2xx response. Non-2xx responses become *StatusError and transport failures
// *TransportError.
func (c *Client) doWith(
	ctx context.Context,
	method, path string,
	payload []byte,
	header http.Header,
	prepare func(*http.Request),
) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := method + " /" + path
	endpoint := c.base.JoinPath(path).String()

	var body interface{}
	if payload != nil {
		body = payload
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", op, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	for k, v := range header {
		req.Header[k] = v
	}
	if prepare != nil {
		prepare(req.Request)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		c.log.Debug().Err(err).Str("op", op).Str("request_id", requestID).Msg("request failed")
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log.Debug().
		Str("op", op).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request complete")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp.StatusCode, data)
	}

	return data, nil
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
