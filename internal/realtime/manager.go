// Package realtime maintains the change-feed subscriptions of the app: one
// shared, reference-counted channel per conversation scope, enriched event
// delivery to registered callbacks, and connection supervision with
// exponential-backoff reconnects.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unihub-app/unihub/backend/internal/metrics"
	"github.com/unihub-app/unihub/backend/internal/models"
	"github.com/unihub-app/unihub/backend/internal/profiles"
	"github.com/unihub-app/unihub/backend/internal/supabase"
)

// enrichTimeout bounds one enrichment fetch. Generous: the fetch is a
// single-row read and failure only degrades display fields.
const enrichTimeout = 30 * time.Second

// Socket is the subset of the realtime connection the manager drives.
// Satisfied by supabase.RealtimeConn; faked in tests.
type Socket interface {
	Join(topic string, sink func(supabase.ChangeEvent)) error
	Leave(topic string) error
	Close() error
}

// DialFunc opens a realtime connection. onError must be invoked at most
// once when the connection drops.
type DialFunc func(ctx context.Context, onError func(error)) (Socket, error)

// Callbacks receives the normalized, enriched events for one subscriber.
// Nil members are skipped. Callbacks run on the feed's read goroutine and
// are panic-wrapped: a throwing callback is logged, never fatal to the
// channel.
type Callbacks struct {
	OnInsert func(models.Message)
	OnUpdate func(models.Message)
	OnDelete func(models.Message)
}

// Manager owns the subscription registry. Multiple logical subscribers to
// one scope share a single channel; the channel is torn down only when its
// reference count reaches zero.
type Manager struct {
	dial     DialFunc
	profiles profiles.Source
	logger   *slog.Logger
	metrics  *metrics.Metrics
	health   *HealthController

	// enrich deduplicates concurrent author lookups per message id, so
	// racing notifications do not fan out into redundant fetches.
	enrich singleflight.Group

	mu    sync.Mutex
	sock  Socket
	chans map[string]*channel
}

// channel is one open change-feed topic with its registered subscribers.
type channel struct {
	scope  models.Scope
	nextID int
	subs   map[int]Callbacks
}

// NewManager builds a manager. The health controller's connect hook is the
// manager's own dial-and-rejoin routine.
func NewManager(dial DialFunc, pinger Pinger, src profiles.Source, cfg HealthConfig, logger *slog.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		dial:     dial,
		profiles: src,
		logger:   logger,
		metrics:  m,
		chans:    make(map[string]*channel),
	}
	mgr.health = NewHealthController(cfg, mgr.connect, pinger, logger, m)
	return mgr
}

// Start connects and begins health supervision. Subscriptions registered
// before Start are joined on the first connect.
func (m *Manager) Start(ctx context.Context) {
	m.health.Start(ctx)
}

// Status returns the connection status for UI indicators.
func (m *Manager) Status() Status {
	return m.health.Status()
}

// OnStatus registers a connection status listener.
func (m *Manager) OnStatus(fn func(Status)) {
	m.health.OnStatus(fn)
}

// ForceReconnect resets the backoff counter and re-establishes every open
// channel, regardless of state. Wired to the UI's manual retry action.
func (m *Manager) ForceReconnect() {
	m.health.ForceReconnect()
}

// Subscribe registers callbacks for one scope and returns the matching
// unsubscribe function. The first subscriber of a scope opens the network
// channel; later ones share it. Subscribing while disconnected succeeds and
// the topic is joined on the next (re)connect.
func (m *Manager) Subscribe(scope models.Scope, cb Callbacks) (func(), error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("invalid scope %q", scope.Key())
	}

	m.mu.Lock()
	key := scope.Key()
	ch, ok := m.chans[key]
	if !ok {
		ch = &channel{scope: scope, subs: make(map[int]Callbacks)}
		if m.sock != nil {
			if err := m.sock.Join(scope.Topic(), m.sinkFor(scope)); err != nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("join %s: %w", scope.Key(), err)
			}
		}
		m.chans[key] = ch
	}
	ch.nextID++
	id := ch.nextID
	ch.subs[id] = cb
	m.mu.Unlock()

	m.logger.Info("subscribed", "scope", key, "subscribers", m.subscriberCount(key))

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(key, id) })
	}, nil
}

func (m *Manager) unsubscribe(key string, id int) {
	m.mu.Lock()
	ch, ok := m.chans[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(ch.subs, id)
	last := len(ch.subs) == 0
	sock := m.sock
	if last {
		delete(m.chans, key)
	}
	topic := ch.scope.Topic()
	m.mu.Unlock()

	if last {
		if sock != nil {
			if err := sock.Leave(topic); err != nil {
				m.logger.Warn("leave failed", "scope", key, "error", err)
			}
		}
		m.logger.Info("channel torn down", "scope", key)
	}
}

func (m *Manager) subscriberCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.chans[key]; ok {
		return len(ch.subs)
	}
	return 0
}

// connect tears down any previous socket, dials a fresh one and rejoins
// every open topic. Invoked by the health controller only.
func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	old := m.sock
	m.sock = nil
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	sock, err := m.dial(ctx, m.onSocketError)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sock = sock
	scopes := make([]models.Scope, 0, len(m.chans))
	for _, ch := range m.chans {
		scopes = append(scopes, ch.scope)
	}
	m.mu.Unlock()

	for _, scope := range scopes {
		if err := sock.Join(scope.Topic(), m.sinkFor(scope)); err != nil {
			sock.Close()
			m.mu.Lock()
			if m.sock == sock {
				m.sock = nil
			}
			m.mu.Unlock()
			return fmt.Errorf("rejoin %s: %w", scope.Key(), err)
		}
	}
	return nil
}

func (m *Manager) onSocketError(err error) {
	m.mu.Lock()
	m.sock = nil
	m.mu.Unlock()
	m.health.ChannelError(err)
}

// Close tears down the socket. Health supervision stops when the Start
// context is cancelled.
func (m *Manager) Close() {
	m.mu.Lock()
	sock := m.sock
	m.sock = nil
	m.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

// sinkFor returns the raw-event sink for one scope. The sink re-checks
// channel liveness at delivery time, so events already buffered when the
// last subscriber left become no-ops instead of firing dead callbacks.
func (m *Manager) sinkFor(scope models.Scope) func(supabase.ChangeEvent) {
	key := scope.Key()
	return func(ev supabase.ChangeEvent) {
		m.mu.Lock()
		ch, ok := m.chans[key]
		if !ok {
			m.mu.Unlock()
			return
		}
		subs := make([]Callbacks, 0, len(ch.subs))
		for _, cb := range ch.subs {
			subs = append(subs, cb)
		}
		m.mu.Unlock()

		m.deliver(ev, subs)
	}
}

func (m *Manager) deliver(ev supabase.ChangeEvent, subs []Callbacks) {
	msg := ev.Record

	switch ev.Type {
	case supabase.ChangeInsert:
		// Rows hidden by moderation are filtered at the feed edge so
		// they never reach subscribers that missed the original.
		if msg.Hidden() {
			return
		}
		m.enrichMessage(&msg)
		for _, cb := range subs {
			m.invoke(cb.OnInsert, msg)
		}
	case supabase.ChangeUpdate:
		m.enrichMessage(&msg)
		for _, cb := range subs {
			m.invoke(cb.OnUpdate, msg)
		}
	case supabase.ChangeDelete:
		if msg.ID == "" {
			msg = ev.Old
		}
		for _, cb := range subs {
			m.invoke(cb.OnDelete, msg)
		}
	default:
		return
	}

	m.metrics.Delivered(string(ev.Type))
}

// enrichMessage fills the denormalized author fields from the profile
// source. Change-feed payloads are bare rows, so most events need this.
// Lookups racing on the same message id are coalesced; a failed lookup
// falls back to placeholder fields rather than dropping the event.
func (m *Manager) enrichMessage(msg *models.Message) {
	if msg.AuthorName != "" {
		return
	}

	key := fmt.Sprintf("enrich:%s", msg.ID)
	v, err, _ := m.enrich.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		defer cancel()
		return m.profiles.GetProfile(ctx, msg.AuthorID)
	})
	if err != nil {
		m.logger.Warn("enrichment failed, delivering with fallback author",
			"message", msg.ID, "author", msg.AuthorID, "error", err)
		m.metrics.EnrichmentFailed()
		p := models.FallbackProfile(msg.AuthorID)
		msg.AuthorName = p.Name
		return
	}

	p := v.(models.Profile)
	msg.AuthorName = p.Name
	msg.AuthorHandle = p.Handle
	msg.AuthorAvatar = p.Avatar
}

// invoke runs one subscriber callback with panic isolation. A throwing
// callback would otherwise kill the read pump and silently end delivery
// for every subscriber on the connection.
func (m *Manager) invoke(fn func(models.Message), msg models.Message) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber callback panicked", "panic", r)
		}
	}()
	fn(msg)
}
