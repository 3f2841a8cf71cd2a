package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unihub-app/unihub/backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Sender is the reconciler surface a client pushes sends through.
// Satisfied by chat.Service.
type Sender interface {
	Send(scope models.Scope, author models.Identity, req models.SendMessageRequest) (string, error)
}

// Client represents a single WebSocket connection viewing one scope.
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	// Scope this client is viewing
	Scope models.Scope

	// Identity is the authenticated user
	Identity models.Identity

	chat   Sender
	logger *slog.Logger
}

// NewClient creates a new Client instance.
func NewClient(hub *Hub, conn *websocket.Conn, scope models.Scope, ident models.Identity, chat Sender, logger *slog.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		Scope:    scope,
		Identity: ident,
		chat:     chat,
		logger:   logger,
	}
}

// inboundSend is the payload of a "send" frame from the browser.
type inboundSend struct {
	Body    string             `json:"body"`
	Kind    models.MessageKind `json:"kind"`
	ReplyTo string             `json:"reply_to,omitempty"`
}

// ReadPump pumps frames from the WebSocket connection into the reconciler.
// This runs in its own goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "user", c.Identity.ID, "error", err)
			}
			break
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.logger.Warn("malformed client frame", "user", c.Identity.ID, "error", err)
		return
	}
	if frame.Type != "send" {
		// Typing indicators and other presence traffic are ignored here.
		return
	}

	var payload inboundSend
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.logger.Warn("malformed send payload", "user", c.Identity.ID, "error", err)
		return
	}
	if payload.Body == "" {
		return
	}

	_, err := c.chat.Send(c.Scope, c.Identity, models.SendMessageRequest{
		Body:    payload.Body,
		Kind:    payload.Kind,
		ReplyTo: payload.ReplyTo,
	})
	if err != nil {
		c.logger.Warn("relay send failed", "scope", c.Scope.Key(), "user", c.Identity.ID, "error", err)
	}
}

// WritePump pumps frames from the hub to the WebSocket connection.
// This runs in its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each frame is its own websocket message; concatenating
			// would break JSON parsing on the frontend.
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
