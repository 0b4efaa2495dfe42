package wear

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollub/guardlink/internal/customer"
	"github.com/pollub/guardlink/internal/session"
	"github.com/pollub/guardlink/internal/token"
	"github.com/pollub/guardlink/internal/types"
)

type sentMessage struct {
	node    string
	path    string
	payload string
}

type fakeTransport struct {
	mu    sync.Mutex
	nodes []string
	sent  []sentMessage
	err   error
}

func (f *fakeTransport) ConnectedNodes(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes, f.err
}

func (f *fakeTransport) Send(ctx context.Context, nodeID, path string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{node: nodeID, path: path, payload: string(payload)})
	return nil
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeBridgeSession struct {
	mu         sync.Mutex
	onStart    func()
	onClose    func()
	closeCodes []int
}

func (f *fakeBridgeSession) OnStart(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStart = fn
}

func (f *fakeBridgeSession) OnClose(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeBridgeSession) SetCloseCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCodes = append(f.closeCodes, code)
}

func (f *fakeBridgeSession) fireStart() {
	f.mu.Lock()
	fn := f.onStart
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeBridgeSession) fireClose() {
	f.mu.Lock()
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeWearGate struct {
	expired    bool
	refreshErr error
	refreshes  int
}

func (f *fakeWearGate) IsRefreshExpired(ctx context.Context) bool { return f.expired }

func (f *fakeWearGate) RefreshIfNeeded(ctx context.Context) (*token.Pair, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &token.Pair{Access: "a"}, nil
}

type fakeReporter struct {
	state  types.ReportState
	begins int
	resets int
}

func (f *fakeReporter) State() types.ReportState { return f.state }
func (f *fakeReporter) Begin()                   { f.begins++ }
func (f *fakeReporter) Reset()                   { f.resets++ }

type fakeSOSLoop struct {
	starts int
	stops  int
	err    error
}

func (f *fakeSOSLoop) Start(ctx context.Context) error {
	f.starts++
	return f.err
}

func (f *fakeSOSLoop) Stop() { f.stops++ }

type fakeWearProfiles struct {
	info customer.Info
	err  error
}

func (f *fakeWearProfiles) Profile(ctx context.Context) (customer.Info, error) {
	return f.info, f.err
}

type bridgeFixture struct {
	transport *fakeTransport
	session   *fakeBridgeSession
	gate      *fakeWearGate
	reports   *fakeReporter
	loop      *fakeSOSLoop
	profiles  *fakeWearProfiles
	bridge    *Bridge
}

func newBridgeFixture() *bridgeFixture {
	f := &bridgeFixture{
		transport: &fakeTransport{nodes: []string{"node-1"}},
		session:   &fakeBridgeSession{},
		gate:      &fakeWearGate{},
		reports:   &fakeReporter{state: types.ReportStateNone},
		loop:      &fakeSOSLoop{},
		profiles: &fakeWearProfiles{info: customer.Info{
			ID:                       9,
			ProtectionExpirationDate: time.Now().Add(24 * time.Hour).Format(customer.ProtectionDateFormat),
		}},
	}
	f.bridge = New(f.transport, f.session, f.gate, f.reports, f.loop, f.profiles)
	return f
}

func (f *bridgeFixture) lastMessage(t *testing.T) sentMessage {
	t.Helper()
	msgs := f.transport.messages()
	require.NotEmpty(t, msgs, "no companion message sent")
	return msgs[len(msgs)-1]
}

func TestCheckTokenValid(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.HandleMessage(context.Background(), Message{Path: TopicCheckToken})

	msg := f.lastMessage(t)
	assert.Equal(t, TopicTokenStatus, msg.path)
	assert.Equal(t, "valid status_NONE", msg.payload)
	assert.Equal(t, 1, f.gate.refreshes)
}

func TestCheckTokenInvalidSkipsRefresh(t *testing.T) {
	f := newBridgeFixture()
	f.gate.expired = true
	f.bridge.HandleMessage(context.Background(), Message{Path: TopicCheckToken})

	msg := f.lastMessage(t)
	assert.Equal(t, "invalid status_NONE", msg.payload)
	assert.Zero(t, f.gate.refreshes, "expired pair must not reach the network")
}

func TestCheckTokenProtectionExpired(t *testing.T) {
	f := newBridgeFixture()
	f.profiles.info.ProtectionExpirationDate =
		time.Now().Add(-time.Hour).Format(customer.ProtectionDateFormat)
	f.reports.state = types.ReportStateWaiting

	f.bridge.HandleMessage(context.Background(), Message{Path: TopicCheckToken})

	msg := f.lastMessage(t)
	assert.Equal(t, "valid protection_expired status_WAITING", msg.payload)
}

func TestStartSOSRepliesStartedWhenReportOpens(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.HandleMessage(context.Background(), Message{Path: TopicStartSOS})
	require.Equal(t, 1, f.loop.starts)

	// The backend assigns the report; the session fires on-start.
	f.session.fireStart()

	assert.Equal(t, 1, f.reports.begins)
	msg := f.lastMessage(t)
	assert.Equal(t, TopicStartSOS, msg.path)
	assert.Equal(t, "started", msg.payload)
}

func TestStartSOSWithoutLogin(t *testing.T) {
	f := newBridgeFixture()
	f.profiles.info = customer.Info{}

	f.bridge.HandleMessage(context.Background(), Message{Path: TopicStartSOS})

	msg := f.lastMessage(t)
	assert.Equal(t, "no_logged_in", msg.payload)
	assert.Zero(t, f.loop.starts)
}

func TestStartSOSWithLapsedProtection(t *testing.T) {
	f := newBridgeFixture()
	f.profiles.info.ProtectionExpirationDate =
		time.Now().Add(-time.Hour).Format(customer.ProtectionDateFormat)

	f.bridge.HandleMessage(context.Background(), Message{Path: TopicStartSOS})

	msg := f.lastMessage(t)
	assert.Equal(t, "protection_expired", msg.payload)
	assert.Zero(t, f.loop.starts)
}

func TestEndSOSStopsAndRepliesStopped(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.HandleMessage(context.Background(), Message{Path: TopicEndSOS})

	assert.Equal(t, []int{session.CloseCancel}, f.session.closeCodes)
	assert.Equal(t, 1, f.loop.stops)

	f.session.fireClose()
	assert.Equal(t, 1, f.reports.resets)
	msg := f.lastMessage(t)
	assert.Equal(t, TopicEndSOS, msg.path)
	assert.Equal(t, "stopped", msg.payload)
}

func TestPushSOSStatus(t *testing.T) {
	tests := []struct {
		state   types.ReportState
		payload string
	}{
		{types.ReportStateWaiting, "waiting"},
		{types.ReportStateConfirmed, "confirmed"},
		{types.ReportStateNone, "finished"},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			f := newBridgeFixture()
			f.bridge.PushSOSStatus(context.Background(), tt.state)
			msg := f.lastMessage(t)
			assert.Equal(t, TopicSOSStatus, msg.path)
			assert.Equal(t, tt.payload, msg.payload)
		})
	}
}

func TestNoNodeIsANoOp(t *testing.T) {
	f := newBridgeFixture()
	f.transport.nodes = nil

	f.bridge.HandleMessage(context.Background(), Message{Path: TopicCheckToken})
	f.bridge.PushSOSStatus(context.Background(), types.ReportStateWaiting)

	assert.Empty(t, f.transport.messages())
	assert.False(t, f.bridge.Connected(context.Background()))
}

func TestUnknownTopicIgnored(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.HandleMessage(context.Background(), Message{Path: "/selfie"})
	assert.Empty(t, f.transport.messages())
}
