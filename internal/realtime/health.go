package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/unihub-app/unihub/backend/internal/metrics"
)

// State is the lifecycle state of the logical realtime connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Code returns the numeric encoding used by the connection-state gauge.
func (s State) Code() int {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateReconnecting:
		return 3
	case StateFailed:
		return 4
	default:
		return 0
	}
}

// Status is the externally visible connection status, rendered by the UI as
// a connected / reconnecting-with-attempt / retry-button indicator.
type Status struct {
	State   State `json:"state"`
	Attempt int   `json:"attempt"`
}

// Pinger issues a trivial read against the backing store. Satisfied by the
// supabase client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthConfig carries the controller tunables.
type HealthConfig struct {
	// BaseDelay is the first reconnection delay; attempt n waits
	// BaseDelay × 2^(n−1).
	BaseDelay time.Duration

	// MaxAttempts is the number of consecutive failed reconnects after
	// which auto-retry stops and ForceReconnect is required.
	MaxAttempts int

	// ProbeInterval is the period of the trivial-read health probe.
	ProbeInterval time.Duration
}

// DefaultHealthConfig returns the production tunables.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		BaseDelay:     2 * time.Second,
		MaxAttempts:   5,
		ProbeInterval: 30 * time.Second,
	}
}

// HealthController drives the per-connection state machine:
//
//	Disconnected → Connecting → Connected → (error) → Reconnecting →
//	Connecting → … → (MaxAttempts consecutive failures) → Failed
//
// Failed stops auto-retry until ForceReconnect. Every transition notifies
// the registered status listeners.
type HealthController struct {
	cfg     HealthConfig
	connect func(ctx context.Context) error
	pinger  Pinger
	logger  *slog.Logger
	metrics *metrics.Metrics

	// schedule arms the retry timer; swappable in tests to observe
	// delays without sleeping.
	schedule func(d time.Duration, f func()) *time.Timer

	mu         sync.Mutex
	state      State
	attempt    int
	retryTimer *time.Timer
	listeners  []func(Status)
	ctx        context.Context
}

// NewHealthController builds a controller. connect must tear down any
// previous channel and re-establish every open subscription; it is invoked
// for the initial connect, each retry, probe-driven recoveries and forced
// reconnects.
func NewHealthController(cfg HealthConfig, connect func(ctx context.Context) error, pinger Pinger, logger *slog.Logger, m *metrics.Metrics) *HealthController {
	def := DefaultHealthConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	return &HealthController{
		cfg:      cfg,
		connect:  connect,
		pinger:   pinger,
		logger:   logger,
		metrics:  m,
		schedule: time.AfterFunc,
		state:    StateDisconnected,
	}
}

// OnStatus registers a status-change listener. Listeners are invoked
// synchronously on every transition.
func (h *HealthController) OnStatus(fn func(Status)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Status returns the current connection status.
func (h *HealthController) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{State: h.state, Attempt: h.attempt}
}

// Start performs the initial connect and launches the periodic health
// probe. The probe stops when ctx is cancelled.
func (h *HealthController) Start(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	go h.probeLoop(ctx)
	h.tryConnect()
}

// ChannelError reports a channel failure observed outside a connect
// attempt, e.g. a dropped websocket or a failed probe while Connected.
func (h *HealthController) ChannelError(err error) {
	h.logger.Warn("realtime channel error", "error", err)
	h.fail()
}

// ForceReconnect resets the attempt counter and re-triggers
// teardown+resubscribe of every open channel, regardless of current state.
func (h *HealthController) ForceReconnect() {
	h.mu.Lock()
	h.attempt = 0
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
	h.mu.Unlock()

	h.tryConnect()
}

func (h *HealthController) tryConnect() {
	h.setState(StateConnecting)

	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := h.connect(ctx); err != nil {
		h.logger.Warn("realtime connect failed", "error", err)
		h.fail()
		return
	}

	h.mu.Lock()
	h.attempt = 0
	h.mu.Unlock()
	h.setState(StateConnected)
}

// fail records one consecutive failure and either arms the backoff timer or
// gives up into Failed.
func (h *HealthController) fail() {
	h.mu.Lock()
	if h.state == StateFailed {
		h.mu.Unlock()
		return
	}
	if h.attempt >= h.cfg.MaxAttempts {
		h.mu.Unlock()
		h.logger.Error("realtime reconnection gave up, waiting for manual retry",
			"attempts", h.cfg.MaxAttempts)
		h.setState(StateFailed)
		return
	}
	h.attempt++
	delay := h.cfg.BaseDelay << (h.attempt - 1)
	h.retryTimer = h.schedule(delay, h.retry)
	h.mu.Unlock()

	h.setState(StateReconnecting)
	h.logger.Info("realtime reconnect scheduled", "attempt", h.Status().Attempt, "delay", delay)
}

func (h *HealthController) retry() {
	h.metrics.Reconnected()
	h.tryConnect()
}

// probeLoop issues a trivial read each interval. A failure while Connected
// degrades to Reconnecting; a success while Reconnecting or Disconnected
// resets the counter and reconnects immediately. A Failed connection is
// left alone: recovery from Failed is the caller's explicit decision.
func (h *HealthController) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthController) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := h.pinger.Ping(probeCtx)
	cancel()

	state := h.Status().State
	switch {
	case err != nil && state == StateConnected:
		h.ChannelError(err)
	case err == nil && (state == StateReconnecting || state == StateDisconnected):
		h.mu.Lock()
		h.attempt = 0
		if h.retryTimer != nil {
			h.retryTimer.Stop()
			h.retryTimer = nil
		}
		h.mu.Unlock()
		h.tryConnect()
	}
}

func (h *HealthController) setState(s State) {
	h.mu.Lock()
	h.state = s
	status := Status{State: s, Attempt: h.attempt}
	listeners := make([]func(Status), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	h.metrics.SetConnectionState(s.Code())
	for _, fn := range listeners {
		fn(status)
	}
}
