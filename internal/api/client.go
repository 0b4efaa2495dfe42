// Package api implements the REST client for the dispatch backend's auth and
// customer surface. The persistent socket lives in internal/session; this
// client covers login/register/edit/logout, token refresh and the
// connectivity probe.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pollub/guardlink/internal/customer"
)

// Sentinel errors mapped from backend HTTP status codes.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrServer       = errors.New("server error")
)

// ErrAuthorizationRequired is reported when an authenticated call cannot even
// be attempted because no valid credentials are available. Callers must route
// to re-login; no network call has been made.
var ErrAuthorizationRequired = errors.New("authorization required")

// Authorizer supplies a bearer token for authenticated calls. An error means
// the call must not proceed (e.g. the refresh token has expired).
type Authorizer interface {
	Token(ctx context.Context) (string, error)
}

// Client is a context-aware HTTP client for the backend REST surface.
type Client struct {
	base string
	http *http.Client
	auth Authorizer
}

// New creates a Client for the given base URL. auth may be nil for a client
// that only performs unauthenticated calls (login, register).
func New(base string, auth Authorizer) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
		auth: auth,
	}
}

func statusErr(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusInternalServerError:
		return ErrServer
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusErr(res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// authed resolves a bearer token through the Authorizer before performing the
// request. The request is never sent when authorization fails.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	if c.auth == nil {
		return ErrAuthorizationRequired
	}
	token, err := c.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthorizationRequired, err)
	}
	return c.do(ctx, method, path, token, body, out)
}

// Login authenticates with credentials and returns the customer profile
// including the initial token pair.
func (c *Client) Login(ctx context.Context, creds customer.Credentials) (customer.Info, string, error) {
	var res struct {
		customer.Info
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/client/login", "", creds, &res); err != nil {
		return customer.Info{}, "", err
	}
	if res.Token == "" {
		return customer.Info{}, "", fmt.Errorf("login response carried no token")
	}
	return res.Info, res.RefreshToken, nil
}

// Register creates a new customer account.
func (c *Client) Register(ctx context.Context, info customer.Info) (customer.Info, error) {
	var res customer.Info
	if err := c.do(ctx, http.MethodPost, "/auth/client/register", "", info, &res); err != nil {
		return customer.Info{}, err
	}
	return res, nil
}

// CheckToken validates an access token and returns the associated profile.
func (c *Client) CheckToken(ctx context.Context, token string) (customer.Info, error) {
	var res customer.Info
	if err := c.do(ctx, http.MethodPost, "/auth/client/checkToken", token, nil, &res); err != nil {
		return customer.Info{}, err
	}
	return res, nil
}

// Refresh exchanges the refresh token for a new access token. The backend may
// rotate the refresh token; a non-empty refreshToken in the response replaces
// the old one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	var res struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/client/refresh", "", body, &res); err != nil {
		return "", "", err
	}
	if res.Token == "" {
		return "", "", fmt.Errorf("refresh response carried no token")
	}
	return res.Token, res.RefreshToken, nil
}

// Logout invalidates the current session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.authed(ctx, http.MethodPost, "/auth/client/logout", nil, nil)
}

// Edit updates the customer profile and returns the new state.
func (c *Client) Edit(ctx context.Context, id int, req customer.EditRequest) (customer.Info, error) {
	var res customer.Info
	if err := c.authed(ctx, http.MethodPut, "/client/"+strconv.Itoa(id), req, &res); err != nil {
		return customer.Info{}, err
	}
	return res, nil
}

// Get fetches the customer profile by id.
func (c *Client) Get(ctx context.Context, id int) (customer.Info, error) {
	var res customer.Info
	if err := c.authed(ctx, http.MethodGet, "/client/"+strconv.Itoa(id), nil, &res); err != nil {
		return customer.Info{}, err
	}
	return res, nil
}

// RemindPassword triggers a password reminder mail.
func (c *Client) RemindPassword(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, "/auth/client/remindPassword", "", body, nil)
}

// Ping reports backend reachability. Any HTTP response counts as reachable;
// only transport failures count as down.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base+"/", nil)
	if err != nil {
		return false
	}
	res, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_ = res.Body.Close()
	return true
}
