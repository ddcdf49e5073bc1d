// Package realtime turns backend push notifications into refresh triggers.
// It never delivers record deltas; every event just tells the caller to
// reload.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"consentsync/internal/platform/logger"
)

// DefaultReconnectDelay is how long after a disconnect the manager re-probes
// connectivity before forcing a refresh.
const DefaultReconnectDelay = 30 * time.Second

type EventKind int

const (
	EventChange EventKind = iota
	EventDisconnected
	EventReconnected
)

func (k EventKind) String() string {
	switch k {
	case EventChange:
		return "change"
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	Payload string
}

// Channel is an open push channel. Events may stay open after Close; a
// closed Events channel ends the subscription.
type Channel interface {
	Events() <-chan Event
	Close() error
}

// Opener opens a push channel for a named resource.
type Opener interface {
	Open(ctx context.Context, resource string) (Channel, error)
}

// Connectivity is the subset of the connection monitor the manager needs.
type Connectivity interface {
	OfflineMode(ctx context.Context) bool
	CheckConnection(ctx context.Context) bool
}

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn after d.
type Scheduler func(d time.Duration, fn func()) Timer

func afterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type Manager struct {
	opener         Opener
	conn           Connectivity
	schedule       Scheduler
	reconnectDelay time.Duration
	logger         *slog.Logger
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.schedule = s }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) { m.reconnectDelay = d }
}

func NewManager(opener Opener, conn Connectivity, opts ...Option) *Manager {
	m := &Manager{
		opener:         opener,
		conn:           conn,
		schedule:       afterFunc,
		reconnectDelay: DefaultReconnectDelay,
		logger:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle is a live or inert subscription.
type Handle struct {
	resource string
	channel  Channel
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	once  sync.Once
	mu    sync.Mutex
	timer Timer
}

// Subscribe opens a channel for resource and calls onChange for every change
// event. In offline mode, or when the channel cannot be opened, the returned
// handle is inert. onChange may be called concurrently with itself.
func (m *Manager) Subscribe(ctx context.Context, resource string, onChange func()) *Handle {
	h := &Handle{resource: resource, logger: m.logger}
	if m.conn.OfflineMode(ctx) {
		m.logger.InfoContext(ctx, "offline mode, realtime subscription skipped", "resource", resource)
		return h
	}

	// The channel lives until Cancel, not until the caller's request ends.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := m.opener.Open(loopCtx, resource)
	if err != nil {
		cancel()
		m.logger.WarnContext(ctx, "realtime channel unavailable", "resource", resource, "error", err)
		return h
	}

	h.channel = ch
	h.cancel = cancel
	h.done = make(chan struct{})
	go m.run(loopCtx, h, onChange)
	return h
}

func (m *Manager) run(ctx context.Context, h *Handle, onChange func()) {
	defer close(h.done)
	events := h.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventChange:
				m.logger.DebugContext(ctx, "realtime change", "resource", h.resource, "payload", ev.Payload)
				onChange()
			case EventDisconnected:
				m.logger.WarnContext(ctx, "realtime channel disconnected", "resource", h.resource)
				m.scheduleReconnectProbe(ctx, h, onChange)
			case EventReconnected:
				m.logger.InfoContext(ctx, "realtime channel reconnected", "resource", h.resource)
			}
		}
	}
}

// scheduleReconnectProbe arms a single probe; further disconnects while one is
// pending are ignored.
func (m *Manager) scheduleReconnectProbe(ctx context.Context, h *Handle, onChange func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		return
	}
	h.timer = m.schedule(m.reconnectDelay, func() {
		h.mu.Lock()
		h.timer = nil
		h.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if m.conn.CheckConnection(ctx) {
			m.logger.InfoContext(ctx, "connectivity back after realtime disconnect", "resource", h.resource)
			onChange()
		}
	})
}

// Active reports whether the handle holds an open channel whose event loop
// is still running.
func (h *Handle) Active() bool {
	if h.channel == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Cancel releases the channel and any pending reconnect probe. Safe to call
// more than once.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		if h.channel == nil {
			h.logger.Debug("cancel on inert realtime handle", "resource", h.resource)
			return
		}
		h.cancel()
		h.mu.Lock()
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		h.mu.Unlock()
		if err := h.channel.Close(); err != nil {
			h.logger.Warn("closing realtime channel", "resource", h.resource, "error", err)
		}
		<-h.done
	})
}
