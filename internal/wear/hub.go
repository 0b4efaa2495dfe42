package wear

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pollub/guardlink/internal/log"
)

// frame is the wire shape exchanged with an attached companion.
type frame struct {
	Path    string `json:"path"`
	Payload string `json:"payload"`
}

// Hub accepts companion attachments over websocket and implements Transport
// for them. Each attached peer is one node; inbound frames are handed to the
// registered handler.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	nodes map[string]*peer

	handler func(ctx context.Context, msg Message)
	logger  zerolog.Logger
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewHub creates an empty companion hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		nodes:  make(map[string]*peer),
		logger: log.WithComponent("wear"),
	}
}

// OnMessage registers the inbound message handler. Replaces any previous
// handler.
func (h *Hub) OnMessage(fn func(ctx context.Context, msg Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// ServeHTTP upgrades the request and services the peer until it detaches.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", "wear.upgrade_failed").Msg("companion attach failed")
		return
	}
	id := uuid.NewString()
	p := &peer{conn: conn}

	h.mu.Lock()
	h.nodes[id] = p
	h.mu.Unlock()

	h.logger.Info().Str("event", "wear.node_attached").Str("node", id).Msg("companion attached")
	h.readLoop(r.Context(), id, p)
}

func (h *Hub) readLoop(ctx context.Context, id string, p *peer) {
	defer func() {
		h.mu.Lock()
		delete(h.nodes, id)
		h.mu.Unlock()
		_ = p.conn.Close()
		h.logger.Info().Str("event", "wear.node_detached").Str("node", id).Msg("companion detached")
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.Warn().Err(err).Str("event", "wear.bad_frame").Msg("unparseable companion frame")
			continue
		}
		h.mu.Lock()
		handler := h.handler
		h.mu.Unlock()
		if handler != nil {
			handler(ctx, Message{Path: f.Path, Payload: []byte(f.Payload)})
		}
	}
}

// ConnectedNodes lists attached peers.
func (h *Hub) ConnectedNodes(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	return ids, nil
}

// Send delivers one frame to the given node.
func (h *Hub) Send(ctx context.Context, nodeID, path string, payload []byte) error {
	h.mu.Lock()
	p, ok := h.nodes[nodeID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, ErrNoNode)
	}
	data, err := json.Marshal(frame{Path: path, Payload: string(payload)})
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}
