// Package profiles resolves author display fields for change-event
// enrichment, with a cache in front of the backing store.
package profiles

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/unihub-app/unihub/backend/internal/models"
)

// Source yields authoritative profiles. Satisfied by the supabase client.
type Source interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

// Cache is a best-effort profile cache. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, userID string) (models.Profile, bool, error)
	Set(ctx context.Context, p models.Profile) error
}

// Resolver is a Source that consults the cache first and writes through on
// a miss. Cache failures are logged and ignored; the source stays
// authoritative.
type Resolver struct {
	src    Source
	cache  Cache
	logger *slog.Logger
}

// NewResolver builds a resolver. cache may be nil, in which case every
// lookup hits the source.
func NewResolver(src Source, cache Cache, logger *slog.Logger) *Resolver {
	return &Resolver{src: src, cache: cache, logger: logger}
}

// GetProfile implements Source.
func (r *Resolver) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	if r.cache != nil {
		p, ok, err := r.cache.Get(ctx, userID)
		if err != nil {
			r.logger.Warn("profile cache read failed", "user", userID, "error", err)
		} else if ok {
			return p, nil
		}
	}

	p, err := r.src.GetProfile(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, p); err != nil {
			r.logger.Warn("profile cache write failed", "user", userID, "error", err)
		}
	}
	return p, nil
}

// Memory is an in-process Cache with per-entry expiry.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	profile models.Profile
	expires time.Time
}

// NewMemory builds a memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, userID string) (models.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok || m.now().After(e.expires) {
		delete(m.entries, userID)
		return models.Profile{}, false, nil
	}
	return e.profile, true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p.ID] = memoryEntry{profile: p, expires: m.now().Add(m.ttl)}
	return nil
}
