// Package websocket relays the realtime core to browser clients: each
// connected client belongs to one conversation scope, the hub holds a
// single shared change-feed subscription per scope and fans enriched events
// out to every client in it.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/unihub-app/unihub/backend/internal/models"
	"github.com/unihub-app/unihub/backend/internal/realtime"
)

// Subscriber is the change-feed surface the hub consumes. Satisfied by
// realtime.Manager.
type Subscriber interface {
	Subscribe(scope models.Scope, cb realtime.Callbacks) (func(), error)
}

// Hub maintains the set of active clients per scope and broadcasts feed
// events to them. It handles client registration, unregistration and
// per-scope event fan-out.
type Hub struct {
	// scopes maps a scope key to the set of clients viewing it
	scopes map[string]map[*Client]bool

	// unsubs holds the hub's feed unsubscribe function per scope
	unsubs map[string]func()

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// broadcast fans an encoded frame out to one scope
	broadcast chan *BroadcastMessage

	feed   Subscriber
	logger *slog.Logger

	mu sync.RWMutex
}

// BroadcastMessage contains a frame to broadcast to a specific scope.
type BroadcastMessage struct {
	ScopeKey string
	Frame    []byte
}

// Frame is the wire format pushed to browser clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewHub creates a new Hub instance.
func NewHub(feed Subscriber, logger *slog.Logger) *Hub {
	return &Hub{
		scopes:     make(map[string]map[*Client]bool),
		unsubs:     make(map[string]func()),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 64),
		feed:       feed,
		logger:     logger,
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToScope(msg)
		}
	}
}

// registerClient adds a client to its scope, opening the shared feed
// subscription when it is the scope's first client.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	key := client.Scope.Key()
	first := h.scopes[key] == nil
	if first {
		h.scopes[key] = make(map[*Client]bool)
	}
	h.scopes[key][client] = true
	total := len(h.scopes[key])
	h.mu.Unlock()

	if first {
		unsub, err := h.feed.Subscribe(client.Scope, realtime.Callbacks{
			OnInsert: h.eventBroadcaster(key, "insert"),
			OnUpdate: h.eventBroadcaster(key, "update"),
			OnDelete: h.eventBroadcaster(key, "delete"),
		})
		if err != nil {
			h.logger.Error("feed subscribe failed", "scope", key, "error", err)
		} else {
			h.mu.Lock()
			h.unsubs[key] = unsub
			h.mu.Unlock()
		}
	}

	h.logger.Info("client joined", "scope", key, "user", client.Identity.ID, "total", total)
}

// unregisterClient removes a client, tearing the shared subscription down
// with the scope's last client.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	key := client.Scope.Key()
	clients, ok := h.scopes[key]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	close(client.send)
	remaining := len(clients)
	var unsub func()
	if remaining == 0 {
		delete(h.scopes, key)
		unsub = h.unsubs[key]
		delete(h.unsubs, key)
	}
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	h.logger.Info("client left", "scope", key, "user", client.Identity.ID, "remaining", remaining)
}

// eventBroadcaster converts one feed callback into scope broadcast frames.
func (h *Hub) eventBroadcaster(scopeKey, frameType string) func(models.Message) {
	return func(msg models.Message) {
		payload, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("could not encode event frame", "scope", scopeKey, "error", err)
			return
		}
		frame, _ := json.Marshal(Frame{Type: frameType, Payload: payload})
		h.broadcast <- &BroadcastMessage{ScopeKey: scopeKey, Frame: frame}
	}
}

// BroadcastEvent pushes an arbitrary frame to one scope's clients. Used for
// out-of-band events such as compose-restore after a failed send.
func (h *Hub) BroadcastEvent(scope models.Scope, frameType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("could not encode frame payload", "type", frameType, "error", err)
		return
	}
	frame, _ := json.Marshal(Frame{Type: frameType, Payload: raw})
	h.broadcast <- &BroadcastMessage{ScopeKey: scope.Key(), Frame: frame}
}

// BroadcastStatus pushes a connection-status frame to every client in every
// scope. Wired to the manager's status listeners so browsers can render the
// connection indicator.
func (h *Hub) BroadcastStatus(st realtime.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	frame, _ := json.Marshal(Frame{Type: "status", Payload: payload})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.scopes {
		for client := range clients {
			select {
			case client.send <- frame:
			default:
			}
		}
	}
}

// broadcastToScope sends a frame to all clients in a scope.
func (h *Hub) broadcastToScope(msg *BroadcastMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.scopes[msg.ScopeKey]))
	for client := range h.scopes[msg.ScopeKey] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- msg.Frame:
		default:
			// Client's buffer is full, drop them.
			h.mu.Lock()
			if scoped, ok := h.scopes[msg.ScopeKey]; ok && scoped[client] {
				delete(scoped, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// ScopeClientCount returns the number of connected clients in a scope.
func (h *Hub) ScopeClientCount(scope models.Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope.Key()])
}
