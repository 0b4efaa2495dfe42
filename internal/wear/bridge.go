// Package wear bridges the session core to the companion wearable. The watch
// is reachable only through discrete point-to-point messages; the bridge
// translates lifecycle events into companion-bound messages and companion
// requests into local session actions.
package wear

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollub/guardlink/internal/customer"
	"github.com/pollub/guardlink/internal/log"
	"github.com/pollub/guardlink/internal/metrics"
	"github.com/pollub/guardlink/internal/session"
	"github.com/pollub/guardlink/internal/token"
	"github.com/pollub/guardlink/internal/types"
)

// Companion channel topics.
const (
	TopicCheckToken  = "/check_token"
	TopicStartSOS    = "/start_sos"
	TopicEndSOS      = "/end_sos"
	TopicTokenStatus = "/token_status"
	TopicSOSStatus   = "/sos_status"
)

// Reply payloads understood by the watch.
const (
	replyStarted           = "started"
	replyStopped           = "stopped"
	replyProtectionExpired = "protection_expired"
	replyNoLoggedIn        = "no_logged_in"
)

// ErrNoNode signals that no companion node is connected. Not being paired or
// in range is a normal condition, never a hard error.
var ErrNoNode = errors.New("no connected companion node")

// Message is one discrete companion message.
type Message struct {
	Path    string
	Payload []byte
}

// Transport is the platform point-to-point messaging channel to the watch.
// Node resolution is asynchronous and fallible.
type Transport interface {
	ConnectedNodes(ctx context.Context) ([]string, error)
	Send(ctx context.Context, nodeID, path string, payload []byte) error
}

// Session is the slice of the session manager the bridge drives.
type Session interface {
	OnStart(fn func())
	OnClose(fn func())
	SetCloseCode(code int)
}

// Gatekeeper is the credential surface consulted for /check_token.
type Gatekeeper interface {
	IsRefreshExpired(ctx context.Context) bool
	RefreshIfNeeded(ctx context.Context) (*token.Pair, error)
}

// Reporter exposes the lifecycle state machine to the bridge.
type Reporter interface {
	State() types.ReportState
	Begin()
	Reset()
}

// SOSLoop starts and stops the background location reporting.
type SOSLoop interface {
	Start(ctx context.Context) error
	Stop()
}

// ProfileSource yields the logged-in customer for protection-window checks.
type ProfileSource interface {
	Profile(ctx context.Context) (customer.Info, error)
}

// Bridge handles companion requests and pushes lifecycle state to the watch.
type Bridge struct {
	transport Transport
	session   Session
	gate      Gatekeeper
	reports   Reporter
	loop      SOSLoop
	profiles  ProfileSource
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a companion bridge.
func New(transport Transport, sess Session, gate Gatekeeper, reports Reporter,
	loop SOSLoop, profiles ProfileSource) *Bridge {
	return &Bridge{
		transport: transport,
		session:   sess,
		gate:      gate,
		reports:   reports,
		loop:      loop,
		profiles:  profiles,
		now:       time.Now,
		logger:    log.WithComponent("wear"),
	}
}

// HandleMessage processes one inbound companion request. Unknown topics are
// logged and ignored.
func (b *Bridge) HandleMessage(ctx context.Context, msg Message) {
	metrics.IncWearMessage("in", msg.Path)
	switch msg.Path {
	case TopicCheckToken:
		b.handleCheckToken(ctx)
	case TopicStartSOS:
		b.handleStartSOS(ctx)
	case TopicEndSOS:
		b.handleEndSOS(ctx)
	default:
		b.logger.Warn().Str("event", "wear.unknown_topic").Str("path", msg.Path).Msg("unknown companion topic")
	}
}

// PushSOSStatus informs the watch of a report lifecycle change.
func (b *Bridge) PushSOSStatus(ctx context.Context, state types.ReportState) {
	var payload string
	switch state {
	case types.ReportStateWaiting:
		payload = "waiting"
	case types.ReportStateConfirmed:
		payload = "confirmed"
	case types.ReportStateNone:
		payload = "finished"
	default:
		return
	}
	b.send(ctx, TopicSOSStatus, payload)
}

// tokenStatus composes the /token_status payload: "valid"/"invalid",
// optionally suffixed with " protection_expired" and the current report
// state as " status_<STATE>".
func (b *Bridge) tokenStatus(ctx context.Context) string {
	valid := !b.gate.IsRefreshExpired(ctx)
	if valid {
		// Refresh opportunistically; a transient failure does not make the
		// pair invalid, the next check retries.
		if _, err := b.gate.RefreshIfNeeded(ctx); err != nil {
			b.logger.Warn().Err(err).Str("event", "wear.refresh_failed").Msg("refresh during token check failed")
		}
	}

	status := "valid"
	if !valid {
		status = "invalid"
	}
	if !b.protectionActive(ctx) {
		status += " " + replyProtectionExpired
	}
	status += " status_" + b.reports.State().String()
	return status
}

func (b *Bridge) handleCheckToken(ctx context.Context) {
	b.send(ctx, TopicTokenStatus, b.tokenStatus(ctx))
}

func (b *Bridge) handleStartSOS(ctx context.Context) {
	info, err := b.profiles.Profile(ctx)
	if err != nil || info.ProtectionExpirationDate == "" {
		b.send(ctx, TopicStartSOS, replyNoLoggedIn)
		return
	}
	if !info.ProtectionActive(b.now()) {
		b.send(ctx, TopicStartSOS, replyProtectionExpired)
		return
	}

	b.session.OnStart(func() {
		b.reports.Begin()
		b.send(context.Background(), TopicStartSOS, replyStarted)
	})
	if err := b.loop.Start(ctx); err != nil {
		b.logger.Error().Err(err).Str("event", "wear.sos_start_failed").Msg("could not start location reporting")
	}
}

func (b *Bridge) handleEndSOS(ctx context.Context) {
	b.session.OnClose(func() {
		b.reports.Reset()
		b.send(context.Background(), TopicEndSOS, replyStopped)
	})
	b.session.SetCloseCode(session.CloseCancel)
	b.loop.Stop()
}

func (b *Bridge) protectionActive(ctx context.Context) bool {
	info, err := b.profiles.Profile(ctx)
	if err != nil {
		return false
	}
	return info.ProtectionActive(b.now())
}

// send delivers a message to the first connected companion node. A missing
// node degrades to a logged no-op.
func (b *Bridge) send(ctx context.Context, path, payload string) {
	nodeID, err := b.nodeID(ctx)
	if err != nil {
		b.logger.Debug().Err(err).Str("event", "wear.no_node").Str("path", path).Msg("companion unreachable")
		return
	}
	if err := b.transport.Send(ctx, nodeID, path, []byte(payload)); err != nil {
		b.logger.Warn().Err(err).Str("event", "wear.send_failed").Str("path", path).Msg("companion send failed")
		return
	}
	metrics.IncWearMessage("out", path)
}

func (b *Bridge) nodeID(ctx context.Context) (string, error) {
	nodes, err := b.transport.ConnectedNodes(ctx)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", ErrNoNode
	}
	return nodes[0], nil
}

// Connected reports whether a companion node is currently reachable.
func (b *Bridge) Connected(ctx context.Context) bool {
	_, err := b.nodeID(ctx)
	return err == nil
}
