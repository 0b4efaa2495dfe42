package health

import (
	"context"

	"github.com/pollub/guardlink/internal/store"
	"github.com/pollub/guardlink/internal/types"
)

// StoreChecker verifies the credential store is reachable.
type StoreChecker struct {
	Store *store.Store
}

func (c *StoreChecker) Name() string { return "store" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	if _, err := c.Store.DeviceID(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// sessionState is the read-only view of the session the checker needs.
type sessionState interface {
	Connected() bool
	Connecting() bool
	Stopped() bool
}

// SessionChecker reports the dispatch connection state. An intentionally idle
// session is healthy; a pending reconnect is degraded.
type SessionChecker struct {
	Session sessionState
}

// NewSessionChecker wraps a session state view.
func NewSessionChecker(sess sessionState) *SessionChecker {
	return &SessionChecker{Session: sess}
}

func (c *SessionChecker) Name() string { return "session" }

func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	switch {
	case c.Session.Connected():
		return CheckResult{Status: StatusHealthy, Message: types.SessionStateConnected.String()}
	case c.Session.Connecting():
		return CheckResult{Status: StatusDegraded, Message: types.SessionStateConnecting.String()}
	case c.Session.Stopped():
		return CheckResult{Status: StatusHealthy, Message: "idle"}
	default:
		return CheckResult{Status: StatusDegraded, Message: types.SessionStateDisconnected.String()}
	}
}
