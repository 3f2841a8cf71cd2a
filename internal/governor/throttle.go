package governor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/unihub-app/unihub/backend/internal/metrics"
)

// Throttle enforces a minimum interval between calls sharing one operation
// key, using a pool of per-key limiters.
type Throttle struct {
	interval time.Duration
	metrics  *metrics.Metrics

	mu sync.Mutex
	m  map[string]*rate.Limiter
}

// NewThrottle builds a throttle with the given per-key minimum interval.
func NewThrottle(interval time.Duration, m *metrics.Metrics) *Throttle {
	return &Throttle{
		interval: interval,
		metrics:  m,
		m:        make(map[string]*rate.Limiter),
	}
}

func (t *Throttle) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(t.interval), 1)
	t.m[key] = l
	return l
}

// Allow reports whether a call for key may proceed now. Calls inside the
// interval are rejected; callers fall back to their cached result.
func (t *Throttle) Allow(key string) bool {
	if t.get(key).Allow() {
		return true
	}
	t.metrics.Blocked("throttle")
	return false
}
