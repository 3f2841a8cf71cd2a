// Package governor is a layered local defense against redundant or runaway
// calls to the backing store: in-flight deduplication, per-operation
// throttling and a call-rate circuit breaker. All three layers are advisory
// safety nets. Application correctness never depends on a request actually
// being blocked; blocking only degrades responsiveness under pathological
// conditions such as render loops or reconnection storms.
//
// The governor is an explicitly constructed object owned by the composition
// root. Its counters are instance fields, never package globals, so tests
// cannot leak state into each other.
package governor

import (
	"errors"
	"log/slog"
	"time"

	"github.com/unihub-app/unihub/backend/internal/metrics"
)

// ErrCircuitOpen is returned while the circuit breaker is tripped. Treated
// as transient: callers back off and may retry after the cooldown.
var ErrCircuitOpen = errors.New("governor: circuit breaker open")

// ErrThrottled is returned when a keyed operation is inside its minimum
// interval. Callers fall back to their last cached result.
var ErrThrottled = errors.New("governor: operation throttled")

// Config carries the governor tunables.
type Config struct {
	// ThrottleInterval is the minimum interval between calls sharing one
	// operation key.
	ThrottleInterval time.Duration

	// BreakerLimit is the rolling per-window call cap.
	BreakerLimit int

	// BreakerWindow is the rolling window the cap applies to.
	BreakerWindow time.Duration

	// BreakerCooldown is how long the breaker blocks calls once tripped.
	BreakerCooldown time.Duration
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		ThrottleInterval: 5 * time.Second,
		BreakerLimit:     50,
		BreakerWindow:    time.Minute,
		BreakerCooldown:  30 * time.Second,
	}
}

// Governor composes the three layers. The zero value is not usable; build
// one with New.
type Governor struct {
	dedupe   *Dedupe
	throttle *Throttle
	breaker  *Breaker
}

// New builds a governor from cfg. Zero-valued tunables fall back to the
// defaults.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Governor {
	def := DefaultConfig()
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = def.ThrottleInterval
	}
	if cfg.BreakerLimit <= 0 {
		cfg.BreakerLimit = def.BreakerLimit
	}
	if cfg.BreakerWindow <= 0 {
		cfg.BreakerWindow = def.BreakerWindow
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	return &Governor{
		dedupe:   NewDedupe(m),
		throttle: NewThrottle(cfg.ThrottleInterval, m),
		breaker:  NewBreaker(cfg.BreakerLimit, cfg.BreakerWindow, cfg.BreakerCooldown, logger, m),
	}
}

// AllowCall consults the circuit breaker and records the call if allowed.
func (g *Governor) AllowCall() error {
	return g.breaker.Allow()
}

// AllowKeyed gates a keyed slow-path operation through both the throttle
// and the breaker.
func (g *Governor) AllowKeyed(key string) error {
	if !g.throttle.Allow(key) {
		return ErrThrottled
	}
	return g.breaker.Allow()
}

// Coalesce runs fn once per key among concurrent callers, handing every
// caller the single result.
func (g *Governor) Coalesce(key string, fn func() (interface{}, error)) (interface{}, error) {
	return g.dedupe.Do(key, fn)
}
