package chat

import (
	"log/slog"
	"time"
)

// Janitor handles automatic cleanup of reconciler state: provisional
// entries that never confirmed and timelines nobody reads anymore. It runs
// as a background goroutine on a fixed interval.
type Janitor struct {
	svc        *Service
	interval   time.Duration
	pendingAge time.Duration
	idleAge    time.Duration
	logger     *slog.Logger
	stopChan   chan struct{}
}

// NewJanitor creates a janitor.
//   - interval: how often to sweep (e.g. 1 minute)
//   - pendingAge: how long a provisional entry may wait for confirmation
//   - idleAge: how long an untouched timeline is kept subscribed
func NewJanitor(svc *Service, interval, pendingAge, idleAge time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		svc:        svc,
		interval:   interval,
		pendingAge: pendingAge,
		idleAge:    idleAge,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the background sweep loop. Call with 'go'.
func (j *Janitor) Start() {
	j.logger.Info("chat janitor started",
		"interval", j.interval, "pending_age", j.pendingAge, "idle_age", j.idleAge)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopChan:
			j.logger.Info("chat janitor stopped")
			return
		}
	}
}

// Stop gracefully shuts down the janitor.
func (j *Janitor) Stop() {
	close(j.stopChan)
}

func (j *Janitor) sweep() {
	if n := j.svc.sweepStalePending(j.pendingAge); n > 0 {
		j.logger.Warn("dropped stale provisional messages", "count", n)
	}
	if n := j.svc.closeIdle(j.idleAge); n > 0 {
		j.logger.Info("closed idle timelines", "count", n)
	}
}
