// SPDX-License-Identifier: MIT
package types

// SessionState represents the current state of the dispatch connection.
type SessionState string

const (
	// SessionStateDisconnected indicates no transport is open.
	SessionStateDisconnected SessionState = "disconnected"

	// SessionStateConnecting indicates a connect or reconnect attempt is pending.
	SessionStateConnecting SessionState = "connecting"

	// SessionStateConnected indicates the transport is open and usable.
	SessionStateConnected SessionState = "connected"
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	return string(s)
}

// IsValid checks whether the session state is valid.
func (s SessionState) IsValid() bool {
	switch s {
	case SessionStateDisconnected, SessionStateConnecting, SessionStateConnected:
		return true
	default:
		return false
	}
}
