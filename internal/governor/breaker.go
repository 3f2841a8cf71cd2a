package governor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/unihub-app/unihub/backend/internal/metrics"
)

// Breaker is a rolling-window circuit breaker over all backing-store calls.
// Exceeding the cap trips the breaker for the cooldown window; it auto-resets
// when the cooldown elapses.
type Breaker struct {
	limit    int
	window   time.Duration
	cooldown time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// now is the clock, swappable in tests.
	now func() time.Time

	mu           sync.Mutex
	calls        []time.Time
	trippedUntil time.Time
}

// NewBreaker builds a breaker allowing limit calls per window.
func NewBreaker(limit int, window, cooldown time.Duration, logger *slog.Logger, m *metrics.Metrics) *Breaker {
	return &Breaker{
		limit:    limit,
		window:   window,
		cooldown: cooldown,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Allow records a call attempt. It returns ErrCircuitOpen while tripped,
// trips the breaker when the attempt exceeds the rolling cap, and admits the
// call otherwise.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if !b.trippedUntil.IsZero() {
		if now.Before(b.trippedUntil) {
			b.metrics.Blocked("breaker")
			return ErrCircuitOpen
		}
		// Cooldown elapsed: auto-reset.
		b.trippedUntil = time.Time{}
		b.calls = b.calls[:0]
		b.logger.Info("circuit breaker reset")
	}

	// Prune calls that slid out of the rolling window.
	cutoff := now.Add(-b.window)
	kept := b.calls[:0]
	for _, t := range b.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.calls = kept

	if len(b.calls) >= b.limit {
		b.trippedUntil = now.Add(b.cooldown)
		b.logger.Warn("CIRCUIT BREAKER TRIPPED: backing-store call rate exceeded, blocking all calls",
			"calls_in_window", len(b.calls),
			"limit", b.limit,
			"window", b.window,
			"cooldown", b.cooldown)
		b.metrics.Blocked("breaker")
		return ErrCircuitOpen
	}

	b.calls = append(b.calls, now)
	return nil
}

// Tripped reports whether the breaker is currently open.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.trippedUntil.IsZero() && b.now().Before(b.trippedUntil)
}
