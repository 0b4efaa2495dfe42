// SPDX-License-Identifier: MIT

// Package control exposes the daemon's local HTTP surface: health, metrics,
// the companion attach point and a small management API for login state and
// alarm control.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pollub/guardlink/internal/api"
	"github.com/pollub/guardlink/internal/customer"
	"github.com/pollub/guardlink/internal/log"
	"github.com/pollub/guardlink/internal/types"
)

// Auth is the backend auth surface the management API fronts.
type Auth interface {
	Login(ctx context.Context, creds customer.Credentials) (customer.Info, string, error)
	Logout(ctx context.Context) error
}

// Store persists the logged-in identity.
type Store interface {
	SaveProfile(ctx context.Context, info customer.Info) error
	SaveAccessToken(ctx context.Context, token string) error
	SaveRefreshToken(ctx context.Context, token string) error
	Profile(ctx context.Context) (customer.Info, error)
	Clear(ctx context.Context) error
}

// Session is the read-only session view reported by /api/status.
type Session interface {
	Connected() bool
	Connecting() bool
	LastReportID() int
}

// Alarm drives the reporting loop from the management API.
type Alarm interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// Reporter exposes the report lifecycle state.
type Reporter interface {
	State() types.ReportState
}

// Server is the management API handler set.
type Server struct {
	auth    Auth
	store   Store
	session Session
	alarm   Alarm
	reports Reporter

	health    http.HandlerFunc
	ready     http.HandlerFunc
	companion http.Handler

	logger zerolog.Logger
}

// New creates the control server.
func New(auth Auth, store Store, session Session, alarm Alarm, reports Reporter,
	health, ready http.HandlerFunc, companion http.Handler) *Server {
	return &Server{
		auth:      auth,
		store:     store,
		session:   session,
		alarm:     alarm,
		reports:   reports,
		health:    health,
		ready:     ready,
		companion: companion,
		logger:    log.WithComponent("control"),
	}
}

// Router builds the chi router for the local surface.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Get("/readyz", s.ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/companion", s.companion)
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/sos/start", s.handleStartAlarm)
		r.Post("/sos/stop", s.handleStopAlarm)
		r.Get("/status", s.handleStatus)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds customer.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !customer.ValidLogin(creds.Login) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid login"})
		return
	}
	ctx := r.Context()
	info, refresh, err := s.auth.Login(ctx, creds)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", "control.login_failed").Msg("login rejected")
		code := http.StatusBadGateway
		if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrForbidden) {
			code = http.StatusUnauthorized
		}
		writeError(w, code, err)
		return
	}
	if err := s.store.SaveProfile(ctx, info); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SaveAccessToken(ctx, info.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info().Str("event", "control.login").Int("user_id", info.ID).Msg("logged in")
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.alarm.Running() {
		s.alarm.Stop()
	}
	if err := s.auth.Logout(ctx); err != nil {
		// Local credentials are cleared regardless; the backend session
		// expires on its own.
		s.logger.Warn().Err(err).Str("event", "control.logout_remote_failed").Msg("backend logout failed")
	}
	if err := s.store.Clear(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info().Str("event", "control.logout").Msg("logged out")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartAlarm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := s.store.Profile(ctx); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not logged in"})
		return
	}
	if err := s.alarm.Start(context.WithoutCancel(ctx)); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"running": true})
}

func (s *Server) handleStopAlarm(w http.ResponseWriter, r *http.Request) {
	s.alarm.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, err := s.store.Profile(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"loggedIn":     err == nil,
		"connected":    s.session.Connected(),
		"connecting":   s.session.Connecting(),
		"reportId":     s.session.LastReportID(),
		"reportState":  s.reports.State(),
		"alarmRunning": s.alarm.Running(),
	})
}
