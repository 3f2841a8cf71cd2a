package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unihub-app/unihub/backend/internal/models"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Heartbeat period on the phoenix control topic. The server closes
	// channels that miss two consecutive heartbeats.
	heartbeatPeriod = 25 * time.Second

	// Maximum change-event frame size.
	maxFrameSize = 512 * 1024
)

// ChangeType is the row-level change kind carried by the feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one normalized row-level notification from the change feed.
// Record is the new row state; Old is populated for updates and deletes.
type ChangeEvent struct {
	Type   ChangeType
	Record models.Message
	Old    models.Message
}

// frame is the phoenix channel wire format used by the realtime service.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// changePayload is the payload of INSERT/UPDATE/DELETE frames.
type changePayload struct {
	Record    models.Message `json:"record"`
	OldRecord models.Message `json:"old_record"`
}

// RealtimeConn is one websocket connection to the realtime service carrying
// any number of joined topics. Change events are demultiplexed by topic to
// the sink registered at join time. A read failure surfaces once through the
// error handler; the connection is not reusable afterwards.
type RealtimeConn struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	onError func(error)

	mu     sync.Mutex
	sinks  map[string]func(ChangeEvent)
	ref    int
	closed bool

	done chan struct{}
}

// DialRealtime opens a websocket connection to the realtime endpoint and
// starts the read and heartbeat pumps. onError is invoked at most once, from
// the read pump, when the connection fails.
func DialRealtime(ctx context.Context, baseURL, apiKey string, logger *slog.Logger, onError func(error)) (*RealtimeConn, error) {
	u, err := realtimeURL(baseURL, apiKey)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &RealtimeConn{
		conn:    conn,
		logger:  logger,
		onError: onError,
		sinks:   make(map[string]func(ChangeEvent)),
		done:    make(chan struct{}),
	}

	go c.readPump()
	go c.heartbeatPump()
	return c, nil
}

func realtimeURL(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Join subscribes this connection to a topic. Change events for the topic
// are delivered to sink from the read pump goroutine.
func (c *RealtimeConn) Join(topic string, sink func(ChangeEvent)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("realtime connection closed")
	}
	c.sinks[topic] = sink
	c.mu.Unlock()

	return c.send(topic, "phx_join", json.RawMessage(`{}`))
}

// Leave unsubscribes the topic. No further events are delivered for it, even
// if frames are already buffered on the wire.
func (c *RealtimeConn) Leave(topic string) error {
	c.mu.Lock()
	delete(c.sinks, topic)
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil
	}
	return c.send(topic, "phx_leave", json.RawMessage(`{}`))
}

// Close tears down the connection. Idempotent; suppresses the error handler.
func (c *RealtimeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	return c.conn.Close()
}

func (c *RealtimeConn) send(topic, event string, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	f := frame{Topic: topic, Event: event, Payload: payload, Ref: strconv.Itoa(c.ref)}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("realtime write failed: %w", err)
	}
	return nil
}

// readPump reads frames until the connection fails, dispatching change
// events to the joined topic sinks.
func (c *RealtimeConn) readPump() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("realtime read failed", "error", err)
				if c.onError != nil {
					c.onError(err)
				}
			}
			return
		}

		switch f.Event {
		case "INSERT", "UPDATE", "DELETE":
			c.dispatch(f)
		case "phx_reply", "phx_close", "heartbeat", "presence_state":
			// Control traffic; nothing to deliver.
		default:
			c.logger.Debug("realtime frame ignored", "event", f.Event, "topic", f.Topic)
		}
	}
}

func (c *RealtimeConn) dispatch(f frame) {
	c.mu.Lock()
	sink := c.sinks[f.Topic]
	c.mu.Unlock()
	if sink == nil {
		return
	}

	var p changePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		c.logger.Warn("malformed change payload", "topic", f.Topic, "error", err)
		return
	}
	sink(ChangeEvent{Type: ChangeType(f.Event), Record: p.Record, Old: p.OldRecord})
}

// heartbeatPump keeps the connection alive on the phoenix control topic.
func (c *RealtimeConn) heartbeatPump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.send("phoenix", "heartbeat", json.RawMessage(`{}`)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
