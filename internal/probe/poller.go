// Package probe polls backend and companion reachability while the session
// is idle, so connectivity state stays current without an open socket.
package probe

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollub/guardlink/internal/log"
)

// Pinger checks backend reachability (the REST probe).
type Pinger interface {
	Ping(ctx context.Context) bool
}

// CompanionChecker checks whether a companion node is reachable.
type CompanionChecker interface {
	Connected(ctx context.Context) bool
}

// SessionState gates the backend probe: while the session holds a live
// socket, reachability is known and the REST probe is skipped.
type SessionState interface {
	Stopped() bool
}

// Poller periodically publishes reachability booleans. The interval adapts:
// slower while reachable, faster while not, so recovery is noticed promptly.
type Poller struct {
	pinger      Pinger
	companion   CompanionChecker
	session     SessionState
	intervalUp  time.Duration
	intervalDn  time.Duration
	onBackend   func(bool)
	onCompanion func(bool)
	logger      zerolog.Logger
}

// New creates a connectivity poller. companion may be nil when no watch
// transport is configured.
func New(pinger Pinger, companion CompanionChecker, sess SessionState,
	intervalUp, intervalDown time.Duration) *Poller {
	return &Poller{
		pinger:     pinger,
		companion:  companion,
		session:    sess,
		intervalUp: intervalUp,
		intervalDn: intervalDown,
		logger:     log.WithComponent("probe"),
	}
}

// OnBackend registers the backend reachability observer. Replaces any
// previous observer.
func (p *Poller) OnBackend(fn func(bool)) { p.onBackend = fn }

// OnCompanion registers the companion reachability observer. Replaces any
// previous observer.
func (p *Poller) OnCompanion(fn func(bool)) { p.onCompanion = fn }

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	delay := p.intervalDn
	for {
		if p.session == nil || p.session.Stopped() {
			reachable := p.pinger.Ping(ctx)
			if reachable {
				delay = p.intervalUp
			} else {
				delay = p.intervalDn
			}
			if p.onBackend != nil {
				p.onBackend(reachable)
			}
		}
		if p.companion != nil && p.onCompanion != nil {
			p.onCompanion(p.companion.Connected(ctx))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
