// Package reads computes and persists per-user read cursors over a scope's
// message stream.
package reads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unihub-app/unihub/backend/internal/governor"
	"github.com/unihub-app/unihub/backend/internal/models"
)

// Store is the persistence surface for read tracking. Satisfied by the
// supabase client.
type Store interface {
	ListMessages(ctx context.Context, scope models.Scope, limit int) ([]models.Message, error)
	ListReadReceipts(ctx context.Context, userID string, messageIDs []string) ([]models.ReadReceipt, error)
	InsertReadReceipts(ctx context.Context, receipts []models.ReadReceipt) error
}

// Limiter gates the recompute slow path. Satisfied by the governor; nil
// disables gating.
type Limiter interface {
	AllowKeyed(key string) error
}

// Service recomputes unread counts on demand rather than maintaining them
// incrementally, so counters can never drift from the store.
type Service struct {
	store   Store
	limiter Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cached map[string]int
}

// NewService creates a read-tracking service.
func NewService(store Store, limiter Limiter, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
		cached:  make(map[string]int),
	}
}

// MarkRead upserts read receipts for every message in scope authored by
// someone other than user and not yet covered by a receipt. Idempotent:
// re-marking already-read messages is a no-op because receipts are unique
// per (message, user).
func (s *Service) MarkRead(ctx context.Context, scope models.Scope, userID string) error {
	missing, err := s.unreadMessages(ctx, scope, userID)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		s.setCached(scope, userID, 0)
		return nil
	}

	receipts := make([]models.ReadReceipt, len(missing))
	readAt := s.now().UTC()
	for i, id := range missing {
		receipts[i] = models.ReadReceipt{MessageID: id, UserID: userID, ReadAt: readAt}
	}
	if err := s.store.InsertReadReceipts(ctx, receipts); err != nil {
		return fmt.Errorf("insert read receipts: %w", err)
	}

	s.logger.Info("marked read", "scope", scope.Key(), "user", userID, "count", len(receipts))
	s.setCached(scope, userID, 0)
	return nil
}

// UnreadCount returns how many messages in scope, authored by others, lack
// a read receipt for user. The count is recomputed on demand; when the
// recompute is throttled the last computed value is served instead.
func (s *Service) UnreadCount(ctx context.Context, scope models.Scope, userID string) (int, error) {
	key := cursorKey(scope, userID)
	if s.limiter != nil {
		if err := s.limiter.AllowKeyed("unread:" + key); err != nil {
			if errors.Is(err, governor.ErrThrottled) || errors.Is(err, governor.ErrCircuitOpen) {
				return s.getCached(key), nil
			}
			return 0, err
		}
	}

	missing, err := s.unreadMessages(ctx, scope, userID)
	if err != nil {
		return 0, err
	}
	s.setCached(scope, userID, len(missing))
	return len(missing), nil
}

// unreadMessages returns the ids of messages by others that user has not
// read yet. Provisional entries never appear here: only persisted rows
// carry receipts.
func (s *Service) unreadMessages(ctx context.Context, scope models.Scope, userID string) ([]string, error) {
	msgs, err := s.store.ListMessages(ctx, scope, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var candidates []string
	for _, m := range msgs {
		if m.AuthorID == userID || m.Pending || m.Hidden() {
			continue
		}
		candidates = append(candidates, m.ID)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	receipts, err := s.store.ListReadReceipts(ctx, userID, candidates)
	if err != nil {
		return nil, fmt.Errorf("list read receipts: %w", err)
	}
	read := make(map[string]bool, len(receipts))
	for _, r := range receipts {
		read[r.MessageID] = true
	}

	var missing []string
	for _, id := range candidates {
		if !read[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func cursorKey(scope models.Scope, userID string) string {
	return scope.Key() + "|" + userID
}

func (s *Service) setCached(scope models.Scope, userID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[cursorKey(scope, userID)] = n
}

func (s *Service) getCached(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached[key]
}
