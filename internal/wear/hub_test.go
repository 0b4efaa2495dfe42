package wear

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubRoutesInboundFrames(t *testing.T) {
	hub := NewHub()
	inbound := make(chan Message, 1)
	hub.OnMessage(func(ctx context.Context, msg Message) { inbound <- msg })

	conn := dialHub(t, hub)
	require.NoError(t, conn.WriteJSON(frame{Path: TopicStartSOS, Payload: ""}))

	select {
	case msg := <-inbound:
		assert.Equal(t, TopicStartSOS, msg.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame not routed")
	}
}

func TestHubSendReachesAttachedNode(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	ctx := context.Background()
	var nodes []string
	require.Eventually(t, func() bool {
		nodes, _ = hub.ConnectedNodes(ctx)
		return len(nodes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(ctx, nodes[0], TopicSOSStatus, []byte("waiting")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, TopicSOSStatus, f.Path)
	assert.Equal(t, "waiting", f.Payload)
}

func TestHubSendToUnknownNode(t *testing.T) {
	hub := NewHub()
	err := hub.Send(context.Background(), "ghost", TopicSOSStatus, []byte("waiting"))
	assert.ErrorIs(t, err, ErrNoNode)
}

func TestHubDetachRemovesNode(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		nodes, _ := hub.ConnectedNodes(ctx)
		return len(nodes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_ = conn.Close()
	require.Eventually(t, func() bool {
		nodes, _ := hub.ConnectedNodes(ctx)
		return len(nodes) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
