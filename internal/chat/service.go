// Package chat holds the optimistic-write reconciler: the in-memory
// conversation timelines, immediate provisional display of locally sent
// messages, and their reconciliation against confirmed change-feed rows.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unihub-app/unihub/backend/internal/models"
	"github.com/unihub-app/unihub/backend/internal/realtime"
)

// Store is the persistence surface the reconciler writes through.
// Satisfied by the supabase client.
type Store interface {
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, scope models.Scope, limit int) ([]models.Message, error)
}

// Feed is the subscription surface. Satisfied by realtime.Manager.
type Feed interface {
	Subscribe(scope models.Scope, cb realtime.Callbacks) (func(), error)
}

// ComposeRestore carries the user's input back to the compose UI after a
// failed send, so no typed text is ever lost.
type ComposeRestore struct {
	Scope   models.Scope
	Body    string
	ReplyTo string
}

// Config carries the reconciler tunables.
type Config struct {
	// MatchWindow is the timestamp tolerance when pairing a confirmed
	// insert with a provisional entry.
	MatchWindow time.Duration

	// WriteTimeout bounds one backing-store write.
	WriteTimeout time.Duration

	// BacklogLimit caps the initial timeline fetch per scope.
	BacklogLimit int
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		MatchWindow:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		BacklogLimit: 200,
	}
}

// Service owns the per-scope timelines and the send/reconcile cycle.
type Service struct {
	store  Store
	feed   Feed
	cfg    Config
	logger *slog.Logger

	// Injectable seams for tests.
	now   func() time.Time
	newID func() string
	spawn func(func())

	onComposeRestore func(ComposeRestore)
	onSendError      func(models.Scope, error)

	mu        sync.Mutex
	timelines map[string]*timeline
}

type timeline struct {
	scope      models.Scope
	msgs       []models.Message
	unsub      func()
	lastActive time.Time
}

// NewService creates the reconciler.
func NewService(store Store, feed Feed, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = def.MatchWindow
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BacklogLimit <= 0 {
		cfg.BacklogLimit = def.BacklogLimit
	}
	return &Service{
		store:     store,
		feed:      feed,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return "pending-" + uuid.New().String() },
		spawn:     func(f func()) { go f() },
		timelines: make(map[string]*timeline),
	}
}

// OnComposeRestore registers the callback invoked when a failed send hands
// the typed input back to the compose UI.
func (s *Service) OnComposeRestore(fn func(ComposeRestore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComposeRestore = fn
}

// OnSendError registers the callback surfacing write failures.
func (s *Service) OnSendError(fn func(models.Scope, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSendError = fn
}

// Open loads the visible backlog for a scope and subscribes it to the
// change feed. Opening an already open scope is a no-op.
func (s *Service) Open(ctx context.Context, scope models.Scope) error {
	if !scope.Valid() {
		return fmt.Errorf("invalid scope %q", scope.Key())
	}

	s.mu.Lock()
	if _, ok := s.timelines[scope.Key()]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	backlog, err := s.store.ListMessages(ctx, scope, s.cfg.BacklogLimit)
	if err != nil {
		return fmt.Errorf("load backlog for %s: %w", scope.Key(), err)
	}

	unsub, err := s.feed.Subscribe(scope, realtime.Callbacks{
		OnInsert: s.handleInsert,
		OnUpdate: s.handleUpdate,
		OnDelete: s.handleDelete,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", scope.Key(), err)
	}

	s.mu.Lock()
	if _, ok := s.timelines[scope.Key()]; ok {
		// Lost the race against a concurrent Open; keep the first.
		s.mu.Unlock()
		unsub()
		return nil
	}
	tl := &timeline{scope: scope, msgs: backlog, unsub: unsub, lastActive: s.now()}
	sortByTimestamp(tl.msgs)
	s.timelines[scope.Key()] = tl
	s.mu.Unlock()
	return nil
}

// Close unsubscribes and drops a scope's timeline.
func (s *Service) Close(scope models.Scope) {
	s.mu.Lock()
	tl, ok := s.timelines[scope.Key()]
	if ok {
		delete(s.timelines, scope.Key())
	}
	s.mu.Unlock()
	if ok && tl.unsub != nil {
		tl.unsub()
	}
}

// Timeline returns a snapshot of the scope's ordered messages, provisional
// entries included.
func (s *Service) Timeline(scope models.Scope) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[scope.Key()]
	if !ok {
		return []models.Message{}
	}
	tl.lastActive = s.now()
	out := make([]models.Message, len(tl.msgs))
	copy(out, tl.msgs)
	return out
}

// Send materializes a provisional message immediately and issues the real
// write in the background; from the caller's perspective it is
// fire-and-forget. The returned id is the temporary one; once confirmed,
// the timeline entry carries the server id instead. Send fails fast only
// when the scope is not open.
func (s *Service) Send(scope models.Scope, author models.Identity, req models.SendMessageRequest) (string, error) {
	kind := req.Kind
	if kind == "" {
		kind = models.KindText
	}

	now := s.now()
	pending := models.Message{
		ID:           s.newID(),
		AuthorID:     author.ID,
		AuthorName:   author.Name,
		AuthorHandle: author.Handle,
		AuthorAvatar: author.Avatar,
		Kind:         kind,
		Body:         req.Body,
		FileURL:      req.FileURL,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		ReplyTo:      req.ReplyTo,
		CreatedAt:    now,
		Pending:      true,
		SentAt:       now,
	}
	pending.SetScope(scope)

	s.mu.Lock()
	tl, ok := s.timelines[scope.Key()]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("scope %s is not open", scope.Key())
	}
	tl.msgs = append(tl.msgs, pending)
	s.mu.Unlock()

	s.spawn(func() { s.persist(pending) })
	return pending.ID, nil
}

// persist issues the real write. On success nothing happens here: the
// change-feed insert confirms the row and the matching rule replaces the
// provisional entry. On failure the provisional entry is rolled back and
// the input restored to the compose UI.
func (s *Service) persist(pending models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	row := pending
	row.ID = ""
	row.Pending = false

	if _, err := s.store.InsertMessage(ctx, row); err != nil {
		s.logger.Warn("send failed, rolling back provisional entry",
			"scope", pending.Scope().Key(), "temp_id", pending.ID, "error", err)
		s.rollback(pending, err)
	}
}

func (s *Service) rollback(pending models.Message, cause error) {
	scope := pending.Scope()

	s.mu.Lock()
	if tl, ok := s.timelines[scope.Key()]; ok {
		for i, m := range tl.msgs {
			if m.ID == pending.ID {
				tl.msgs = append(tl.msgs[:i], tl.msgs[i+1:]...)
				break
			}
		}
	}
	restore := s.onComposeRestore
	onErr := s.onSendError
	s.mu.Unlock()

	if restore != nil {
		restore(ComposeRestore{Scope: scope, Body: pending.Body, ReplyTo: pending.ReplyTo})
	}
	if onErr != nil {
		onErr(scope, cause)
	}
}

// handleInsert applies one confirmed insert. A confirmed message replaces a
// provisional one when scope, author and body match and the timestamps fall
// within the match window; otherwise it is appended as new. Events from
// other users never match a local provisional entry, so they always append.
func (s *Service) handleInsert(msg models.Message) {
	scope := msg.Scope()

	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[scope.Key()]
	if !ok {
		return
	}

	// Duplicate feed delivery for an already confirmed row: drop.
	for _, m := range tl.msgs {
		if !m.Pending && m.ID == msg.ID {
			return
		}
	}

	for i, m := range tl.msgs {
		if m.Pending && m.AuthorID == msg.AuthorID && m.Body == msg.Body &&
			within(msg.CreatedAt, m.SentAt, s.cfg.MatchWindow) {
			tl.msgs[i] = msg
			sortByTimestamp(tl.msgs)
			return
		}
	}

	tl.msgs = append(tl.msgs, msg)
	sortByTimestamp(tl.msgs)
}

// handleUpdate replaces the stored row. Moderation-hidden rows stay in the
// timeline with their flags set; hiding is the rendering layer's concern.
func (s *Service) handleUpdate(msg models.Message) {
	scope := msg.Scope()

	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[scope.Key()]
	if !ok {
		return
	}
	for i, m := range tl.msgs {
		if m.ID == msg.ID {
			tl.msgs[i] = msg
			sortByTimestamp(tl.msgs)
			return
		}
	}
}

func (s *Service) handleDelete(msg models.Message) {
	scope := msg.Scope()

	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[scope.Key()]
	if !ok {
		return
	}
	for i, m := range tl.msgs {
		if m.ID == msg.ID {
			tl.msgs = append(tl.msgs[:i], tl.msgs[i+1:]...)
			return
		}
	}
}

// sweepStalePending drops provisional entries older than maxAge. They are
// either lost writes whose failure callback never fired, or confirmed rows
// whose feed event was missed; the next backlog load shows the truth.
func (s *Service) sweepStalePending(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tl := range s.timelines {
		kept := tl.msgs[:0]
		for _, m := range tl.msgs {
			if m.Pending && m.SentAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		tl.msgs = kept
	}
	return removed
}

// closeIdle tears down timelines nobody has read past the idle threshold.
func (s *Service) closeIdle(idleAge time.Duration) int {
	cutoff := s.now().Add(-idleAge)

	s.mu.Lock()
	var idle []*timeline
	for key, tl := range s.timelines {
		if tl.lastActive.Before(cutoff) {
			idle = append(idle, tl)
			delete(s.timelines, key)
		}
	}
	s.mu.Unlock()

	for _, tl := range idle {
		if tl.unsub != nil {
			tl.unsub()
		}
	}
	return len(idle)
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

func sortByTimestamp(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
