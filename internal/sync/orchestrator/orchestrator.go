// Package orchestrator keeps an eventually-correct view of the active and
// archived consent collections under unreliable connectivity.
//
// Reads are served from memory or the cache immediately while a load cycle
// refreshes in the background. Only one load cycle runs at a time; triggers
// that arrive while one is in flight are dropped. Failed background cycles
// schedule retries with exponential backoff, then fall back to a flat periodic
// retry. Writes apply locally first and are visible before the caller returns.
package orchestrator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"consentsync/internal/audit"
	"consentsync/internal/consent/models"
	"consentsync/internal/platform/logger"
	"consentsync/internal/sync/cache"
	"consentsync/internal/sync/connectivity"
	"consentsync/internal/sync/metrics"
	"consentsync/internal/sync/realtime"
)

// Cache keys, one per dataset.
const (
	KeyActive   = "consents:active"
	KeyArchived = "consents:archived"
)

const DefaultCacheTTL = 48 * time.Hour

// Backend is the remote consent service.
type Backend interface {
	FetchConsents(ctx context.Context, archived bool) ([]models.Row, error)
	GetConsent(ctx context.Context, id uuid.UUID) (models.Row, error)
	ResolvePurpose(ctx context.Context, name string) (uuid.UUID, error)
	InsertConsent(ctx context.Context, rec models.Record) (models.Row, error)
	ArchiveConsent(ctx context.Context, id uuid.UUID) error
}

// Connectivity answers whether the backend is reachable. CheckConnection may
// reuse a recent answer; Refresh always probes.
type Connectivity interface {
	CheckConnection(ctx context.Context) bool
	Refresh(ctx context.Context) bool
	Status() connectivity.Status
}

// Realtime opens the push subscription that feeds refresh triggers.
type Realtime interface {
	Subscribe(ctx context.Context, resource string, onChange func()) *realtime.Handle
}

// Auditor receives consent write events. Emit must not block.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event)
}

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn after d.
type Scheduler func(d time.Duration, fn func()) Timer

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProbing    Phase = "probing"
	PhaseFetching   Phase = "fetching"
	PhaseBackingOff Phase = "backing_off"
)

// Trigger names what started a load cycle.
type Trigger string

const (
	TriggerLoad       Trigger = "load"
	TriggerRealtime   Trigger = "realtime"
	TriggerOnline     Trigger = "online"
	TriggerForeground Trigger = "foreground"
	TriggerScheduled  Trigger = "scheduled"
	TriggerManual     Trigger = "manual"
)

// RetryState tracks background retries. It is reset by a successful load, a
// manual retry or a network-restored signal.
type RetryState struct {
	AttemptCount  int       `json:"attempt_count"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitzero"`
	NextRetryAt   time.Time `json:"next_retry_at,omitzero"`
	Periodic      bool      `json:"periodic"`
}

// State is the observable view. Collection slices are never modified after
// publication, so a State can be shared freely.
type State struct {
	Active          []models.Record `json:"active"`
	Archived        []models.Record `json:"archived"`
	ConnectionError bool            `json:"connection_error"`
	Retry           RetryState      `json:"retry"`
	LastError       string          `json:"last_error,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Status is the connection-status view exposed to the UI.
type Status struct {
	Phase           Phase               `json:"phase"`
	ConnectionError bool                `json:"connection_error"`
	Retry           RetryState          `json:"retry"`
	LastError       string              `json:"last_error,omitempty"`
	LastProbe       connectivity.Status `json:"last_probe"`
}

// Timeouts bound every network step.
type Timeouts struct {
	ProbeCeiling time.Duration
	Fetch        time.Duration
	Lookup       time.Duration
	Insert       time.Duration
	Archive      time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		ProbeCeiling: 60 * time.Second,
		Fetch:        60 * time.Second,
		Lookup:       30 * time.Second,
		Insert:       45 * time.Second,
		Archive:      40 * time.Second,
	}
}

type Orchestrator struct {
	backend  Backend
	conn     Connectivity
	cache    *cache.Store[[]models.Record]
	realtime Realtime
	resource string
	auditor  Auditor

	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	rand     func() float64
	schedule Scheduler
	policy   RetryPolicy
	timeouts Timeouts
	cacheTTL time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc
	bg         sync.WaitGroup

	// commitMu orders cache write then publish for every collection change.
	commitMu sync.Mutex

	mu          sync.Mutex
	state       State
	loaded      bool
	phase       Phase
	cycleCancel context.CancelFunc
	cycleDone   chan struct{}
	timer       Timer
	timerGen    uint64
	rtHandle    *realtime.Handle
	subs        map[int]chan State
	nextSub     int
	closed      bool
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRealtime subscribes to resource on Start.
func WithRealtime(rt Realtime, resource string) Option {
	return func(o *Orchestrator) {
		o.realtime = rt
		o.resource = resource
	}
}

func WithAuditor(a Auditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.schedule = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRand sets the jitter source; it must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(o *Orchestrator) { o.rand = r }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

func New(backend Backend, conn Connectivity, store *cache.Store[[]models.Record], opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		conn:     conn,
		cache:    store,
		logger:   logger.Discard(),
		tracer:   otel.Tracer("consentsync/internal/sync/orchestrator"),
		now:      time.Now,
		rand:     rand.Float64,
		schedule: func(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) },
		policy:   DefaultRetryPolicy(),
		timeouts: DefaultTimeouts(),
		cacheTTL: DefaultCacheTTL,
		phase:    PhaseIdle,
		subs:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())
	return o
}

// Start opens the realtime subscription, if one is configured.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ensureRealtime(ctx)
}

// ensureRealtime (re)subscribes when there is no live handle, e.g. after
// starting in offline mode.
func (o *Orchestrator) ensureRealtime(ctx context.Context) {
	if o.realtime == nil {
		return
	}
	o.mu.Lock()
	if o.closed || (o.rtHandle != nil && o.rtHandle.Active()) {
		o.mu.Unlock()
		return
	}
	old := o.rtHandle
	o.rtHandle = nil
	o.mu.Unlock()
	if old != nil {
		old.Cancel()
	}

	h := o.realtime.Subscribe(ctx, o.resource, func() { o.Trigger(TriggerRealtime) })

	o.mu.Lock()
	if o.closed || o.rtHandle != nil {
		o.mu.Unlock()
		h.Cancel()
		return
	}
	o.rtHandle = h
	o.mu.Unlock()
}

// Close stops timers, cancels in-flight cycles and the realtime subscription,
// waits for background work and closes subscriber channels.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.stopTimerLocked()
	if o.cycleCancel != nil {
		o.cycleCancel()
	}
	handle := o.rtHandle
	o.rtHandle = nil
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.mu.Unlock()

	o.baseCancel()
	if handle != nil {
		handle.Cancel()
	}
	o.bg.Wait()
}

// State returns the current observable state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe streams state updates with latest-value semantics: a slow reader
// only ever sees the newest state. The current state is delivered first.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan State, 1)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.state
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

// ConnectionStatus reports the load-cycle phase, retry state and last probe.
func (o *Orchestrator) ConnectionStatus() Status {
	probe := o.conn.Status()
	o.mu.Lock()
	defer o.mu.Unlock()
	phase := o.phase
	if phase == PhaseIdle && o.timer != nil {
		phase = PhaseBackingOff
	}
	return Status{
		Phase:           phase,
		ConnectionError: o.state.ConnectionError,
		Retry:           o.state.Retry,
		LastError:       o.state.LastError,
		LastProbe:       probe,
	}
}

func (o *Orchestrator) publishLocked() {
	o.state.UpdatedAt = o.now()
	st := o.state
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phase = p
}
