// Package session owns the persistent duplex connection to the dispatch
// backend. It implements the connect/send/disconnect contract, fixed-delay
// reconnects gated on stopRequested, and demultiplexes inbound control
// messages into registered callbacks.
//
// Send policy is best-effort: messages sent while disconnected are dropped,
// not queued. Location pings are perishable; callers that need guaranteed
// signalling (cancellation) use the close-code protocol instead.
//
// Callback slots are single: registering a new handler replaces the
// previous one.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pollub/guardlink/internal/log"
	"github.com/pollub/guardlink/internal/metrics"
	"github.com/pollub/guardlink/internal/types"
)

// CloseCancel is the application close code carrying the active report id in
// its reason payload, so the backend can correlate a cancellation with the
// in-flight alarm.
const CloseCancel = 4000

// ErrNotConnected is returned by Send while no transport is open. The message
// has been dropped; per the best-effort policy callers log and move on.
var ErrNotConnected = errors.New("session not connected")

// TokenSource supplies the bearer token attached at connect time.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Prober checks backend reachability out-of-band, used after an intentional
// close so observers see current reachability instead of a stale flag.
type Prober interface {
	Ping(ctx context.Context) bool
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	State        types.SessionState
	LastReportID int
}

// Manager maintains at most one live transport to the dispatch backend.
// All connection flags are mutated only by the manager itself; external
// components observe through Snapshots and the callback slots.
type Manager struct {
	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	connecting     bool
	stopRequested  bool
	lastReportID   int
	closeCode      int
	hasCloseCode   bool
	endpoint       string
	reconnectTimer *time.Timer

	writeMu sync.Mutex

	onStart          func()
	onClose          func()
	onReportFinished func()
	onStatus         func(types.ReportState)
	onReachable      func(bool)

	tokens         TokenSource
	prober         Prober
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	snapshots      chan Snapshot
	logger         zerolog.Logger
}

// NewManager creates a session manager. prober may be nil; reachability
// callbacks are then skipped after intentional closes.
func NewManager(tokens TokenSource, prober Prober, reconnectDelay time.Duration) *Manager {
	return &Manager{
		lastReportID:   -1,
		stopRequested:  true,
		tokens:         tokens,
		prober:         prober,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectDelay: reconnectDelay,
		snapshots:      make(chan Snapshot, 1),
		logger:         log.WithComponent("session"),
	}
}

// OnStart registers the handler fired when the backend assigns or resumes a
// report. Replaces any previous handler.
func (m *Manager) OnStart(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = fn
}

// OnClose registers the handler fired on intentional disconnect, before the
// transport closes. Replaces any previous handler.
func (m *Manager) OnClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// OnReportFinished registers the handler fired when the backend signals that
// the active report is finished. Replaces any previous handler.
func (m *Manager) OnReportFinished(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReportFinished = fn
}

// OnStatus registers the handler fired on backend "waiting"/"confirmed"
// lifecycle statuses. Replaces any previous handler.
func (m *Manager) OnStatus(fn func(types.ReportState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// OnReachable registers the observer for out-of-band reachability probes.
func (m *Manager) OnReachable(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReachable = fn
}

// SetCloseCode arms a one-shot close code used by the next Disconnect.
func (m *Manager) SetCloseCode(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCode = code
	m.hasCloseCode = true
}

// Connected reports whether the transport is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connecting reports whether the session is in the reconnect-pending window.
// It stays true across a successful re-dial until the backend confirms the
// resumed report with a reportId or "reconnected" message.
func (m *Manager) Connecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connecting
}

// Stopped reports whether the session is intentionally idle (no connect has
// been requested, or the last close was user-initiated).
func (m *Manager) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopRequested
}

// LastReportID returns the active report id, -1 when none.
func (m *Manager) LastReportID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReportID
}

// Snapshots returns the published state stream. The channel holds the latest
// snapshot only; slow consumers see the most recent state, not every change.
func (m *Manager) Snapshots() <-chan Snapshot {
	return m.snapshots
}

// publishLocked pushes the current state to the snapshot channel,
// replacing an unconsumed older snapshot. Caller must hold mu.
func (m *Manager) publishLocked() {
	state := types.SessionStateDisconnected
	switch {
	case m.connected:
		state = types.SessionStateConnected
	case m.connecting:
		state = types.SessionStateConnecting
	}
	snap := Snapshot{State: state, LastReportID: m.lastReportID}
	for {
		select {
		case m.snapshots <- snap:
			return
		default:
			select {
			case <-m.snapshots:
			default:
			}
		}
	}
}

// Connect opens the transport to the given endpoint with the current access
// token attached. It is idempotent while connected: a second transport is
// never created.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	m.stopRequested = false
	m.closeCode = 0
	m.hasCloseCode = false
	m.endpoint = endpoint
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	token, err := m.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("session token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := m.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		metrics.IncSessionConnect(false)
		m.logger.Warn().Err(err).Str("event", "session.dial_failed").Msg("connect failed")
		m.mu.Lock()
		if !m.stopRequested {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.connected {
		// Lost the race against another Connect; keep the existing transport.
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.conn = conn
	m.connected = true
	// A re-dial does not end the reconnect-pending window; only an inbound
	// reportId or "reconnected" message from the backend clears connecting,
	// so callers keep sending the reconnect variant until the report is
	// re-associated.
	m.publishLocked()
	m.mu.Unlock()

	metrics.IncSessionConnect(true)
	m.logger.Info().Str("event", "session.connected").Str("endpoint", endpoint).Msg("session connected")
	go m.readLoop(conn)
	return nil
}

// Send transmits a message over the open transport. While disconnected the
// message is dropped and ErrNotConnected returned.
func (m *Manager) Send(message []byte) error {
	m.mu.Lock()
	conn, connected := m.conn, m.connected
	m.mu.Unlock()
	if !connected || conn == nil {
		metrics.SessionDroppedSends.Inc()
		m.logger.Debug().Str("event", "session.send_dropped").Msg("dropped send while disconnected")
		return ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, message)
}

// Disconnect intentionally closes the session. The on-close handler runs and
// completes before the transport is closed. When the cancel close code is
// armed, the close reason carries the active report id; otherwise the
// transport is closed normally. Afterward lastReportId is reset and the
// close code cleared, and reachability is probed out-of-band.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRequested = true
	m.connecting = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	connected := m.connected
	reportID := m.lastReportID
	code := m.closeCode
	hasCode := m.hasCloseCode
	onClose := m.onClose
	m.conn = nil
	m.connected = false
	m.lastReportID = -1
	m.closeCode = 0
	m.hasCloseCode = false
	m.publishLocked()
	m.mu.Unlock()

	if connected && conn != nil {
		if onClose != nil {
			onClose()
		}
		if !hasCode {
			code = websocket.CloseNormalClosure
		}
		var frame []byte
		if code == CloseCancel {
			frame = websocket.FormatCloseMessage(code, fmt.Sprintf(`{"reportId": %d}`, reportID))
		} else {
			frame = websocket.FormatCloseMessage(code, "Disconnect")
		}
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(2*time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
		m.logger.Info().Str("event", "session.disconnected").Int("close_code", code).Msg("session closed")
	}

	m.probeReachability()
}

// probeReachability runs the out-of-band connectivity check so state
// observers reflect current reachability after an intentional close.
func (m *Manager) probeReachability() {
	m.mu.Lock()
	prober, onReachable := m.prober, m.onReachable
	m.mu.Unlock()
	if prober == nil || onReachable == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		onReachable(prober.Ping(ctx))
	}()
}

// scheduleReconnectLocked arms the fixed-delay reconnect. Caller must hold
// mu. A Disconnect during the delay window stops the timer; the timer body
// re-checks stopRequested so a cancelled countdown never dials.
func (m *Manager) scheduleReconnectLocked() {
	if m.stopRequested {
		return
	}
	m.connecting = true
	m.publishLocked()
	metrics.SessionReconnects.Inc()
	endpoint := m.endpoint
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		stopped := m.stopRequested
		m.mu.Unlock()
		if stopped {
			return
		}
		m.logger.Info().Str("event", "session.reconnecting").Str("endpoint", endpoint).Msg("reconnect attempt")
		_ = m.Connect(context.Background(), endpoint)
	})
}

// readLoop consumes inbound messages until the transport fails or closes.
// Events are processed strictly in arrival order.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(conn, err)
			return
		}
		m.dispatch(data)
	}
}

// handleClosed reacts to transport failure or closure of conn. Stale
// transports (already replaced or torn down) are ignored.
func (m *Manager) handleClosed(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connected = false
	intentional := m.stopRequested
	if !intentional {
		m.scheduleReconnectLocked()
	}
	m.publishLocked()
	m.mu.Unlock()

	if intentional {
		m.probeReachability()
		return
	}
	m.logger.Warn().Err(err).Str("event", "session.closed_unexpectedly").
		Dur("reconnect_delay", m.reconnectDelay).Msg("transport lost, reconnect scheduled")
}

// controlMessage is the inbound wire shape; field presence selects the event.
type controlMessage struct {
	ReportID *int    `json:"reportId"`
	Status   *string `json:"status"`
}

// dispatch routes one inbound message. Unrecognized shapes are ignored for
// forward compatibility.
func (m *Manager) dispatch(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Debug().Err(err).Str("event", "session.unparseable_message").Msg("ignoring inbound message")
		return
	}

	if msg.ReportID != nil {
		m.mu.Lock()
		m.lastReportID = *msg.ReportID
		m.connected = true
		m.connecting = false
		onStart := m.onStart
		m.publishLocked()
		m.mu.Unlock()
		m.logger.Info().Str("event", "session.report_started").Int("report_id", *msg.ReportID).Msg("report active")
		if onStart != nil {
			onStart()
		}
	}

	if msg.Status == nil {
		return
	}
	switch *msg.Status {
	case "finished":
		m.mu.Lock()
		m.lastReportID = -1
		onFinished := m.onReportFinished
		m.publishLocked()
		m.mu.Unlock()
		m.logger.Info().Str("event", "session.report_finished").Msg("report finished by backend")
		if onFinished != nil {
			onFinished()
		}
	case "reconnected":
		m.mu.Lock()
		m.connected = true
		m.connecting = false
		onStart := m.onStart
		m.publishLocked()
		m.mu.Unlock()
		m.logger.Info().Str("event", "session.resumed").Msg("report resumed after reconnect")
		if onStart != nil {
			onStart()
		}
	case "confirmed":
		m.emitStatus(types.ReportStateConfirmed)
	case "waiting":
		m.emitStatus(types.ReportStateWaiting)
	default:
		// Unknown statuses are ignored for forward compatibility.
	}
}

func (m *Manager) emitStatus(state types.ReportState) {
	m.mu.Lock()
	onStatus := m.onStatus
	m.mu.Unlock()
	if onStatus != nil {
		onStatus(state)
	}
}
