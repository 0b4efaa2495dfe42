// Package token implements the credential gatekeeper: it decides when the
// access token needs a refresh, performs the refresh call, and persists the
// outcome. All authenticated actions in the process go through it.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pollub/guardlink/internal/log"
	"github.com/pollub/guardlink/internal/metrics"
	"github.com/pollub/guardlink/internal/store"
)

// ErrRefreshExpired is reported when the refresh token itself has expired.
// No authenticated action may proceed; the caller must force re-login.
var ErrRefreshExpired = errors.New("refresh token expired")

// Pair is an access/refresh token pair.
type Pair struct {
	Access  string
	Refresh string
}

// Refresher exchanges a refresh token for a new access token (and possibly a
// rotated refresh token). Implemented by the REST client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// Manager is the credential gatekeeper. Concurrent refresh calls are
// collapsed into a single network request; the persisted pair is written
// atomically so readers never observe a half-written state.
type Manager struct {
	store     *store.Store
	refresher Refresher
	threshold time.Duration
	now       func() time.Time
	group     singleflight.Group
	logger    zerolog.Logger
}

// NewManager creates a gatekeeper with the given refresh threshold: the
// access token is renewed once it is within threshold of its expiry.
func NewManager(st *store.Store, refresher Refresher, threshold time.Duration) *Manager {
	return &Manager{
		store:     st,
		refresher: refresher,
		threshold: threshold,
		now:       time.Now,
		logger:    log.WithComponent("token"),
	}
}

// expiryOf extracts the exp claim without verifying the signature; the
// client only schedules refreshes from it, the backend remains the authority.
func expiryOf(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}

// IsRefreshExpired is a pure check against the stored refresh token's expiry.
// It performs no network call. A missing or unparseable token counts as
// expired.
func (m *Manager) IsRefreshExpired(ctx context.Context) bool {
	raw, err := m.store.RefreshToken(ctx)
	if err != nil {
		return true
	}
	exp, err := expiryOf(raw)
	if err != nil {
		return true
	}
	return !m.now().Before(exp)
}

// RefreshIfNeeded renews the access token when it is within the configured
// threshold of expiry. It returns the current pair on success and nil with an
// error on failure; callers must treat a nil pair as "not authorized" and
// stop background work instead of retrying unboundedly.
func (m *Manager) RefreshIfNeeded(ctx context.Context) (*Pair, error) {
	access, err := m.store.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("no access token: %w", err)
	}
	refresh, err := m.store.RefreshToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("no refresh token: %w", err)
	}

	if exp, err := expiryOf(access); err == nil && m.now().Add(m.threshold).Before(exp) {
		metrics.IncTokenRefresh("fresh")
		return &Pair{Access: access, Refresh: refresh}, nil
	}

	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx, refresh)
	})
	if err != nil {
		metrics.IncTokenRefresh("failed")
		return nil, err
	}
	return v.(*Pair), nil
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	access, rotated, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		m.logger.Warn().Err(err).Str("event", "token.refresh_failed").Msg("refresh call failed")
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if err := m.store.SaveAccessToken(ctx, access); err != nil {
		return nil, err
	}
	pair := &Pair{Access: access, Refresh: refreshToken}
	if rotated != "" {
		if err := m.store.SaveRefreshToken(ctx, rotated); err != nil {
			return nil, err
		}
		pair.Refresh = rotated
	}
	metrics.IncTokenRefresh("refreshed")
	m.logger.Debug().Str("event", "token.refreshed").Bool("rotated", rotated != "").Msg("access token renewed")
	return pair, nil
}

// Token implements the REST client's Authorizer: it gates on refresh-token
// expiry, renews the access token if needed and returns it. The request must
// not be attempted when an error is returned.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if m.IsRefreshExpired(ctx) {
		metrics.IncTokenRefresh("expired")
		return "", ErrRefreshExpired
	}
	pair, err := m.RefreshIfNeeded(ctx)
	if err != nil {
		return "", err
	}
	return pair.Access, nil
}
