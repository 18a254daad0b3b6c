// Package api - WebSocket lifecycle stream and remote renderer
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/dialog"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/game"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Outgoing message types
const (
	MsgConnected  = "connected"
	MsgEvent      = "event"
	MsgReelsSpin  = "reels_spin"
	MsgReelsStop  = "reels_stop"
	MsgDialogShow = "dialog_show"
	MsgDialogHide = "dialog_close"
	MsgSound      = "sound"
	MsgState      = "state"
	MsgSpinResult = "spin_result"
	MsgPong       = "pong"
	MsgError      = "error"
)

// Incoming message types
const (
	MsgReelsStopped = "reels_stopped"
	MsgDialogClosed = "dialog_closed"
	MsgSpin         = "spin"
	MsgGetState     = "state"
	MsgPing         = "ping"
)

const sendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// WSClient represents a WebSocket client connection
type WSClient struct {
	conn     *websocket.Conn
	send     chan []byte
	operator string
}

type reelsMessage struct {
	Session session.Session    `json:"session"`
	Result  *domain.SpinResult `json:"result"`
}

type dialogMessage struct {
	DialogID dialog.ID       `json:"dialog_id"`
	Tier     game.Tier       `json:"tier"`
	Amount   decimal.Decimal `json:"amount"`
}

type ackMessage struct {
	SessionID session.ID `json:"session_id"`
}

type dialogAck struct {
	DialogID dialog.ID `json:"dialog_id"`
}

// Hub fans lifecycle events out to every connected client and acts as the
// remote renderer: reel, dialog and sound calls become messages, and a reel
// stop blocks until a client acknowledges it. With no client connected, or
// once the ack timeout passes, calls complete immediately.
type Hub struct {
	ackTimeout time.Duration

	mu      sync.Mutex
	clients map[*WSClient]struct{}
	waiters map[session.ID]chan struct{}
	showing bool
	dialog  dialog.ID
}

// NewHub creates a hub
func NewHub(ackTimeout time.Duration) *Hub {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &Hub{
		ackTimeout: ackTimeout,
		clients:    make(map[*WSClient]struct{}),
		waiters:    make(map[session.ID]chan struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.WithFields(log.Fields{"operator": c.operator, "clients": n}).Info("Renderer connected")
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.WithFields(log.Fields{"operator": c.operator, "clients": n}).Info("Renderer disconnected")
}

// broadcast queues a message for every client and returns how many received it
func (h *Hub) broadcast(msgType string, payload interface{}) int {
	msg, err := encodeMessage(msgType, payload)
	if err != nil {
		log.WithError(err).WithField("type", msgType).Error("Failed to encode websocket message")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
			sent++
		default:
			log.WithField("type", msgType).Warn("Renderer send buffer full, message dropped")
		}
	}
	return sent
}

// HandleEvent streams a bus event to every client
func (h *Hub) HandleEvent(_ context.Context, e event.Event) error {
	h.broadcast(MsgEvent, e)
	return nil
}

// Spin starts the reel animation on the clients
func (h *Hub) Spin(_ context.Context, s session.Session, res *domain.SpinResult) error {
	h.broadcast(MsgReelsSpin, reelsMessage{Session: s, Result: res})
	return nil
}

// Stop lands the reels and waits for a client to acknowledge
func (h *Hub) Stop(ctx context.Context, s session.Session, res *domain.SpinResult) error {
	ch := make(chan struct{})
	h.mu.Lock()
	h.waiters[s.ID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.waiters, s.ID)
		h.mu.Unlock()
	}()

	if h.broadcast(MsgReelsStop, reelsMessage{Session: s, Result: res}) == 0 {
		return nil
	}

	timer := time.NewTimer(h.ackTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		log.WithField("session_id", s.ID).Warn("Reel stop not acknowledged, continuing")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AckReelsStopped completes a pending Stop. It reports whether one was waiting.
func (h *Hub) AckReelsStopped(id session.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.waiters[id]
	if !ok {
		return false
	}
	delete(h.waiters, id)
	close(ch)
	return true
}

// Show displays a win dialog on the clients. Their dialog_closed ack must
// carry id.
func (h *Hub) Show(_ context.Context, id dialog.ID, tier game.Tier, amount decimal.Decimal) error {
	h.mu.Lock()
	h.showing = true
	h.dialog = id
	h.mu.Unlock()
	h.broadcast(MsgDialogShow, dialogMessage{DialogID: id, Tier: tier, Amount: amount})
	return nil
}

// IsShowing reports whether a dialog is on screen
func (h *Hub) IsShowing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.showing
}

// Close hides the dialog on the clients
func (h *Hub) Close(_ context.Context) error {
	h.mu.Lock()
	h.showing = false
	id := h.dialog
	h.mu.Unlock()
	h.broadcast(MsgDialogHide, dialogAck{DialogID: id})
	return nil
}

// Play sends a sound effect cue; it never blocks
func (h *Hub) Play(name string) {
	h.broadcast(MsgSound, map[string]string{"name": name})
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	msg := WSMessage{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	operator := operatorName(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		operator: operator,
	}
	h.hub.register(client)

	go client.writePump()
	go h.readPump(client)
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the handler
func (h *Handler) readPump(c *WSClient) {
	defer func() {
		h.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	h.sendMessage(c, MsgConnected, h.engine.Snapshot())

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("WebSocket read failed")
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "INVALID_MESSAGE", "Invalid message format")
			continue
		}

		h.handleWSMessage(c, &msg)
	}
}

// handleWSMessage processes incoming WebSocket messages
func (h *Handler) handleWSMessage(c *WSClient, msg *WSMessage) {
	ctx := context.Background()

	switch msg.Type {
	case MsgReelsStopped:
		var ack ackMessage
		if err := json.Unmarshal(msg.Payload, &ack); err != nil || ack.SessionID == 0 {
			h.sendError(c, "INVALID_PAYLOAD", "reels_stopped requires session_id")
			return
		}
		if !h.hub.AckReelsStopped(ack.SessionID) {
			log.WithField("session_id", ack.SessionID).Debug("Reel stop ack with no pending stop")
		}

	case MsgDialogClosed:
		var ack dialogAck
		if err := json.Unmarshal(msg.Payload, &ack); err != nil || ack.DialogID == 0 {
			h.sendError(c, "INVALID_PAYLOAD", "dialog_closed requires dialog_id")
			return
		}
		if !h.engine.CloseDialog(ctx, ack.DialogID) {
			log.WithField("dialog_id", ack.DialogID).Debug("Dialog close ack for a dialog that is not visible")
		}

	case MsgSpin:
		// the spin waits for this client's reel stop ack, so it cannot run
		// on the read loop
		go func() {
			res, err := h.engine.Spin(ctx)
			if err != nil {
				h.sendError(c, "SPIN_REJECTED", err.Error())
				return
			}
			h.sendMessage(c, MsgSpinResult, res)
		}()

	case MsgGetState:
		h.sendMessage(c, MsgState, h.engine.Snapshot())

	case MsgPing:
		h.sendMessage(c, MsgPong, map[string]interface{}{
			"timestamp": time.Now().Unix(),
		})

	default:
		h.sendError(c, "UNKNOWN_MESSAGE", "Unknown message type: "+msg.Type)
	}
}

// sendMessage sends a message to one client
func (h *Handler) sendMessage(c *WSClient, msgType string, payload interface{}) {
	msg, err := encodeMessage(msgType, payload)
	if err != nil {
		log.WithError(err).WithField("type", msgType).Error("Failed to encode websocket message")
		return
	}

	h.hub.mu.Lock()
	defer h.hub.mu.Unlock()
	if _, ok := h.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.WithField("type", msgType).Warn("Client send buffer full, message dropped")
	}
}

// sendError sends an error message to the client
func (h *Handler) sendError(c *WSClient, code, message string) {
	h.sendMessage(c, MsgError, map[string]string{
		"code":    code,
		"message": message,
	})
}
