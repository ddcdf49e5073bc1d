// Package connectivity answers "can we reach the backend right now?" without
// hammering the network: results are debounced, concurrent checks share one
// probe, and the backend stage retries with exponential backoff and jitter.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"consentsync/internal/platform/logger"
	"consentsync/internal/sync/kv"
	"consentsync/internal/sync/metrics"
	"consentsync/pkg/platform/sentinel"
)

const (
	// DefaultDebounce coalesces bursts of checks into one real probe.
	DefaultDebounce = 10 * time.Second
	// DefaultProbeTimeout bounds each reachability request and each backend
	// probe attempt.
	DefaultProbeTimeout = 10 * time.Second

	backendInitialInterval = 2 * time.Second
	backendMaxInterval     = 120 * time.Second
	backendJitter          = 0.3
	backendMaxAttempts     = 10
)

// Persisted flags, shared by every instance using the same kv.Store.
const (
	OfflineModeKey        = kv.Namespace + "flag:offline_mode"
	NetworkUnreachableKey = kv.Namespace + "flag:network_unreachable"
)

// Pinger is the backend health probe: a minimal read-only query.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the most recent probe outcome.
type Status struct {
	Connected bool      `json:"connected"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor probes general and backend reachability.
type Monitor struct {
	flags           kv.Store
	backend         Pinger
	client          *http.Client
	endpoints       []string
	debounce        time.Duration
	probeTimeout    time.Duration
	newBackOff      func() backoff.BackOff
	now             func() time.Time
	logger          *slog.Logger
	metrics         *metrics.Metrics
	probes          singleflight.Group
	transitionHooks []func(connected bool)

	// base outlives individual callers; in-flight checks end when it does.
	base context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	status    Status
	hasStatus bool
}

type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithEndpoints sets the ordered reachability endpoints.
func WithEndpoints(endpoints []string) Option {
	return func(m *Monitor) { m.endpoints = append([]string(nil), endpoints...) }
}

func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) { m.debounce = d }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.probeTimeout = d }
}

// WithBackOff replaces the backend retry policy. The attempt cap is applied
// on top of whatever the factory returns.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(m *Monitor) { m.newBackOff = factory }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New builds a Monitor. flags holds the offline-mode override and the
// network-unreachable marker.
func New(flags kv.Store, backend Pinger, endpoints []string, opts ...Option) *Monitor {
	m := &Monitor{
		flags:        flags,
		backend:      backend,
		client:       &http.Client{},
		endpoints:    append([]string(nil), endpoints...),
		debounce:     DefaultDebounce,
		probeTimeout: DefaultProbeTimeout,
		newBackOff:   DefaultBackOff,
		now:          time.Now,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.base, m.stop = context.WithCancel(context.Background())
	return m
}

// Close aborts any in-flight check. Later checks report disconnected.
func (m *Monitor) Close() {
	m.stop()
}

// DefaultBackOff is the backend probe policy: 2s doubling to a 120s cap with
// ±30% jitter and no elapsed-time limit.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backendInitialInterval
	b.MaxInterval = backendMaxInterval
	b.RandomizationFactor = backendJitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return b
}

// OnTransition registers fn to run whenever a probe flips the known status.
// Must be called before the monitor is shared.
func (m *Monitor) OnTransition(fn func(connected bool)) {
	m.transitionHooks = append(m.transitionHooks, fn)
}

// CheckConnection reports whether the backend is reachable. It never fails:
// the offline override answers false without touching the network, a result
// younger than the debounce window is reused, and anything else runs the
// two-stage probe.
func (m *Monitor) CheckConnection(ctx context.Context) (connected bool) {
	defer m.recoverProbe(ctx, &connected)
	if m.OfflineMode(ctx) {
		return false
	}
	if st, ok := m.cached(); ok {
		return st.Connected
	}
	return m.probe(ctx)
}

// Refresh is CheckConnection without the debounce window; writes use it to
// insist on a fresh answer. The offline override still applies.
func (m *Monitor) Refresh(ctx context.Context) (connected bool) {
	defer m.recoverProbe(ctx, &connected)
	if m.OfflineMode(ctx) {
		return false
	}
	return m.probe(ctx)
}

// Status returns the last probe outcome; the zero value before any probe.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Invalidate forgets the debounced result so the next check probes.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasStatus = false
}

// OfflineMode reports the persisted override. Read failures count as off.
func (m *Monitor) OfflineMode(ctx context.Context) bool {
	return m.flag(ctx, OfflineModeKey)
}

// SetOfflineMode persists the override for every instance sharing the store.
func (m *Monitor) SetOfflineMode(ctx context.Context, on bool) error {
	m.Invalidate()
	return m.setFlag(ctx, OfflineModeKey, on)
}

// NetworkUnreachable reports whether the last backend probe exhausted its
// retries.
func (m *Monitor) NetworkUnreachable(ctx context.Context) bool {
	return m.flag(ctx, NetworkUnreachableKey)
}

func (m *Monitor) cached() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasStatus || m.now().Sub(m.status.CheckedAt) >= m.debounce {
		return Status{}, false
	}
	return m.status, true
}

// probe runs one shared two-stage probe; concurrent callers wait for it.
// The shared run is detached from whichever caller started it: a caller
// giving up early neither cuts short the others nor skips the unreachable
// flag.
func (m *Monitor) probe(ctx context.Context) bool {
	if m.base.Err() != nil {
		return false
	}
	ch := m.probes.DoChan("probe", func() (v any, err error) {
		pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		defer context.AfterFunc(m.base, cancel)()
		defer func() {
			if r := recover(); r != nil {
				m.logger.ErrorContext(pctx, "connectivity probe panicked", "panic", r)
				v, err = false, nil
			}
		}()

		connected := m.internetReachable(pctx) && m.backendReachable(pctx)
		m.record(connected)
		return connected, nil
	})
	select {
	case res := <-ch:
		connected, _ := res.Val.(bool)
		return connected
	case <-ctx.Done():
		return false
	}
}

func (m *Monitor) record(connected bool) {
	m.mu.Lock()
	prev, had := m.status, m.hasStatus
	m.status = Status{Connected: connected, CheckedAt: m.now()}
	m.hasStatus = true
	m.mu.Unlock()

	m.metrics.SetConnected(connected)
	if had && prev.Connected != connected {
		m.logger.Info("connectivity changed", "connected", connected)
		for _, fn := range m.transitionHooks {
			fn(connected)
		}
	}
}

// backendReachable retries the backend probe with backoff. Any success ends
// the loop and clears the unreachable flag; exhaustion sets it.
func (m *Monitor) backendReachable(ctx context.Context) bool {
	policy := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), backendMaxAttempts-1), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		defer cancel()
		err := m.backend.Ping(attemptCtx)
		m.metrics.RecordProbe("backend", err == nil)
		if err != nil {
			m.logger.DebugContext(ctx, "backend probe failed", "attempt", attempt, "error", err)
		}
		return err
	}, policy)

	if err != nil {
		m.logger.WarnContext(ctx, "backend unreachable", "attempts", attempt, "error", err)
		if ctx.Err() == nil {
			if ferr := m.setFlag(ctx, NetworkUnreachableKey, true); ferr != nil {
				m.logger.WarnContext(ctx, "failed to persist unreachable flag", "error", ferr)
			}
		}
		return false
	}
	if ferr := m.setFlag(ctx, NetworkUnreachableKey, false); ferr != nil {
		m.logger.WarnContext(ctx, "failed to clear unreachable flag", "error", ferr)
	}
	return true
}

func (m *Monitor) flag(ctx context.Context, key string) bool {
	b, err := m.flags.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			m.logger.WarnContext(ctx, "flag read failed", "key", key, "error", err)
		}
		return false
	}
	return string(b) == "true"
}

func (m *Monitor) setFlag(ctx context.Context, key string, on bool) error {
	if on {
		return m.flags.Set(ctx, key, []byte("true"), 0)
	}
	return m.flags.Delete(ctx, key)
}

func (m *Monitor) recoverProbe(ctx context.Context, connected *bool) {
	if r := recover(); r != nil {
		m.logger.ErrorContext(ctx, "connectivity probe panicked", "panic", r)
		*connected = false
	}
}
