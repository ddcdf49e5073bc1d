package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"consentsync/internal/audit"
	"consentsync/internal/consent/models"
	"consentsync/internal/sync/cache"
	"consentsync/internal/sync/kv"
	"consentsync/internal/sync/metrics"
	dErrors "consentsync/pkg/domain-errors"
	"consentsync/pkg/platform/sentinel"
)

type OrchestratorSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	backend   *fakeBackend
	conn      *fakeConn
	scheduler *fakeScheduler
	auditor   *fakeAuditor
	store     *cache.Store[[]models.Record]
	metrics   *metrics.Metrics
	orch      *Orchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s.backend = newFakeBackend()
	s.conn = &fakeConn{}
	s.conn.connected.Store(true)
	s.scheduler = &fakeScheduler{}
	s.auditor = &fakeAuditor{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.store = cache.New[[]models.Record](kv.NewInMemoryStore(),
		cache.WithClock(func() time.Time { return s.now }))
	s.orch = s.newOrchestrator()
}

func (s *OrchestratorSuite) TearDownTest() {
	s.orch.Close()
}

func (s *OrchestratorSuite) newOrchestrator(opts ...Option) *Orchestrator {
	timeouts := DefaultTimeouts()
	timeouts.Fetch = 100 * time.Millisecond
	timeouts.Archive = 100 * time.Millisecond
	base := []Option{
		WithClock(func() time.Time { return s.now }),
		WithRand(func() float64 { return 0.5 }),
		WithScheduler(s.scheduler.schedule),
		WithAuditor(s.auditor),
		WithMetrics(s.metrics),
		WithTimeouts(timeouts),
	}
	return New(s.backend, s.conn, s.store, append(base, opts...)...)
}

func (s *OrchestratorSuite) seedRemote(active, archived int) ([]models.Record, []models.Record) {
	var a, b []models.Record
	for i := range active {
		rec := newRecord("active", s.now.Add(-time.Duration(i)*time.Hour))
		a = append(a, rec)
		s.backend.rows[false] = append(s.backend.rows[false], rowFor(rec))
	}
	for i := range archived {
		at := s.now.Add(-time.Minute)
		rec := newRecord("archived", s.now.Add(-time.Duration(i+10)*time.Hour))
		rec.Archived = true
		rec.ArchivedAt = &at
		b = append(b, rec)
		s.backend.rows[true] = append(s.backend.rows[true], rowFor(rec))
	}
	return a, b
}

func (s *OrchestratorSuite) wait() {
	s.orch.bg.Wait()
}

func ids(records []models.Record) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func (s *OrchestratorSuite) TestWarmCacheServedWhileBackendUnreachable() {
	cached := []models.Record{newRecord("A", s.now), newRecord("B", s.now)}
	s.Require().NoError(s.store.Set(s.ctx, KeyActive, cached, 48*time.Hour))
	s.conn.connected.Store(false)

	start := time.Now()
	st, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)
	s.Less(time.Since(start), time.Second)
	s.Equal(ids(cached), ids(st.Active))

	s.wait()
	s.Equal(0, s.backend.Calls(true), "no archived fetch while unreachable")
	s.Equal(0, s.backend.Calls(false))
	s.True(s.orch.State().ConnectionError)
	s.Equal(ids(cached), ids(s.orch.State().Active), "cached data survives the failed refresh")
}

func (s *OrchestratorSuite) TestColdLoadCachesEachPartition() {
	active, archived := s.seedRemote(2, 1)

	st, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(ids(active), ids(st.Active))
	s.Equal(ids(archived), ids(st.Archived))
	s.False(st.ConnectionError)

	for key, want := range map[string]int{KeyActive: 2, KeyArchived: 1} {
		entry, ok := s.store.Lookup(s.ctx, key)
		s.Require().True(ok, key)
		s.Len(entry.Data, want)
		s.Equal(s.now, entry.StoredAt)
	}
}

func (s *OrchestratorSuite) TestMalformedRowsAreDropped() {
	s.seedRemote(2, 0)
	s.backend.rows[false] = append(s.backend.rows[false], models.Row{})

	st, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)
	s.Len(st.Active, 2)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RowsDropped))
}

func (s *OrchestratorSuite) TestCacheWrittenBeforeStatePublished() {
	s.seedRemote(1, 1)
	updates, cancel := s.orch.Subscribe()
	defer cancel()
	<-updates // initial state

	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range updates {
			if len(st.Active) > 0 {
				_, ok := s.store.Get(s.ctx, KeyActive)
				s.True(ok, "published state must already be cached")
				return
			}
		}
	}()
	_, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)
	<-done
}

func (s *OrchestratorSuite) TestPartialFailureCommitsActive() {
	active, _ := s.seedRemote(2, 1)
	s.backend.gates[true] = make(chan struct{}) // never opened: archived fetch times out

	st, err := s.orch.Load(s.ctx)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeTimeout))
	s.Contains(err.Error(), "archived")

	s.Equal(ids(active), ids(st.Active))
	s.Empty(st.Archived)
	cachedActive, ok := s.store.Get(s.ctx, KeyActive)
	s.True(ok)
	s.Len(cachedActive, 2)
	_, ok = s.store.Get(s.ctx, KeyArchived)
	s.False(ok)
	s.False(st.ConnectionError)
}

func (s *OrchestratorSuite) TestBackoffThenPeriodicAfterFifteenAttempts() {
	s.conn.connected.Store(false)
	policy := DefaultRetryPolicy()

	_, err := s.orch.Load(s.ctx)
	s.True(dErrors.Is(err, dErrors.CodeConnectivity))

	for i := 1; i < 17; i++ {
		timer := s.scheduler.last()
		s.Require().NotNil(timer)
		timer.fn()
		s.wait()
	}

	timers := s.scheduler.all()
	s.Require().Len(timers, 17, "one load plus sixteen scheduled retries, all failing")
	for i := 0; i < policy.MaxAttempts; i++ {
		s.Equal(policy.Nominal(i), timers[i].delay, "attempt %d", i)
	}
	for _, t := range timers[policy.MaxAttempts:] {
		s.Equal(5*time.Minute, t.delay)
	}
	retry := s.orch.State().Retry
	s.Equal(policy.MaxAttempts, retry.AttemptCount)
	s.True(retry.Periodic)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.RetriesScheduled.WithLabelValues("periodic")))
}

func (s *OrchestratorSuite) TestSuccessfulLoadResetsRetryState() {
	s.conn.connected.Store(false)
	_, _ = s.orch.Load(s.ctx)
	s.Equal(1, s.orch.State().Retry.AttemptCount)

	s.seedRemote(1, 0)
	s.conn.connected.Store(true)
	s.scheduler.last().fn()
	s.wait()

	st := s.orch.State()
	s.Equal(RetryState{}, st.Retry)
	s.False(st.ConnectionError)
	s.Len(st.Active, 1)
}

func (s *OrchestratorSuite) TestReachableBackendResetsBackoffBeforeFetch() {
	s.backend.fetchErr[false] = sentinel.ErrUnavailable
	_, err := s.orch.Load(s.ctx)
	s.True(dErrors.Is(err, dErrors.CodeConnectivity))
	s.Equal(1, s.orch.State().Retry.AttemptCount)

	s.scheduler.last().fn()
	s.wait()
	s.scheduler.last().fn()
	s.wait()

	st := s.orch.State()
	s.Equal(1, st.Retry.AttemptCount, "each reachable check restarts backoff from the first attempt")
	s.False(st.Retry.Periodic)
	s.False(st.ConnectionError)
	s.NotEmpty(st.LastError)
	timers := s.scheduler.all()
	s.Require().Len(timers, 3)
	for _, t := range timers {
		s.Equal(DefaultRetryPolicy().Nominal(0), t.delay)
	}
}

func (s *OrchestratorSuite) TestBackgroundTriggersDroppedWhileBackingOff() {
	s.conn.connected.Store(false)
	_, _ = s.orch.Load(s.ctx)
	pending := s.scheduler.last()
	s.Require().NotNil(pending)
	checks := s.conn.checks.Load()

	s.False(s.orch.Foreground())
	s.False(s.orch.Trigger(TriggerRealtime))
	s.wait()
	s.Equal(checks, s.conn.checks.Load(), "no cycle runs ahead of the pending retry")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.TriggersDropped.WithLabelValues("foreground")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.TriggersDropped.WithLabelValues("realtime")))
	s.Equal(PhaseBackingOff, s.orch.ConnectionStatus().Phase)

	pending.fn()
	s.wait()
	s.Equal(checks+1, s.conn.checks.Load(), "the retry timer still fires its cycle")

	s.seedRemote(1, 0)
	s.conn.connected.Store(true)
	s.True(s.orch.NetworkRestored(s.ctx), "coming online overrides the backoff")
	s.wait()
	s.Len(s.orch.State().Active, 1)
}

func (s *OrchestratorSuite) TestManualRetryResetsStateBeforeProbe() {
	s.conn.connected.Store(false)
	_, _ = s.orch.Load(s.ctx)
	s.scheduler.last().fn()
	s.wait()
	s.Equal(2, s.orch.State().Retry.AttemptCount)
	pending := s.scheduler.last()

	var atProbe State
	s.conn.onProbe = func() { atProbe = s.orch.State() }
	_, err := s.orch.Retry(s.ctx)

	s.True(dErrors.Is(err, dErrors.CodeConnectivity), "manual failures surface")
	s.Equal(0, atProbe.Retry.AttemptCount)
	s.False(atProbe.ConnectionError)
	s.True(pending.stopped.Load(), "pending backoff is cancelled")
	s.Equal(int32(1), s.conn.refreshes.Load(), "manual retry probes fresh")
	s.Len(s.scheduler.all(), 2, "manual retry never schedules")
	s.Equal(0, s.orch.State().Retry.AttemptCount)
}

func (s *OrchestratorSuite) TestStaleTimerAfterManualRetryIsIgnored() {
	s.conn.connected.Store(false)
	_, _ = s.orch.Load(s.ctx)
	stale := s.scheduler.last()

	_, _ = s.orch.Retry(s.ctx)
	checks := s.conn.checks.Load()
	stale.fn()
	s.wait()
	s.Equal(checks, s.conn.checks.Load())
}

func (s *OrchestratorSuite) TestTriggersDroppedWhileCycleInFlight() {
	s.seedRemote(1, 0)
	gate := make(chan struct{})
	s.backend.gates[false] = gate
	s.orch = s.newOrchestrator(WithTimeouts(DefaultTimeouts()))

	s.True(s.orch.Trigger(TriggerRealtime))
	<-s.backend.entered

	s.False(s.orch.Foreground())
	s.False(s.orch.Trigger(TriggerRealtime))
	s.False(s.orch.NetworkRestored(s.ctx))

	close(gate)
	s.wait()
	s.Equal(1, s.backend.Calls(false), "dropped triggers are not queued")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.TriggersDropped.WithLabelValues("foreground")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.TriggersDropped.WithLabelValues("online")))
}

func (s *OrchestratorSuite) TestManualRetryPreemptsInFlightCycle() {
	s.seedRemote(1, 0)
	s.backend.gates[false] = make(chan struct{})
	s.orch = s.newOrchestrator(WithTimeouts(DefaultTimeouts()))

	s.True(s.orch.Trigger(TriggerRealtime))
	<-s.backend.entered

	s.backend.mu.Lock()
	delete(s.backend.gates, false)
	s.backend.mu.Unlock()

	st, err := s.orch.Retry(s.ctx)
	s.Require().NoError(err)
	s.Len(st.Active, 1)
	s.Equal(2, s.backend.Calls(false))
}

func (s *OrchestratorSuite) TestNetworkRestoredResetsRetry() {
	s.conn.connected.Store(false)
	_, _ = s.orch.Load(s.ctx)
	pending := s.scheduler.last()

	s.seedRemote(1, 0)
	s.conn.connected.Store(true)
	s.True(s.orch.NetworkRestored(s.ctx))
	s.wait()

	s.True(pending.stopped.Load())
	s.Equal(RetryState{}, s.orch.State().Retry)
	s.Len(s.orch.State().Active, 1)
}

func (s *OrchestratorSuite) TestCreatePrependsAndCaches() {
	existing, _ := s.seedRemote(1, 0)
	_, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)
	purpose := uuid.New()
	s.backend.purposes["marketing"] = purpose

	rec, err := s.orch.Create(s.ctx, models.CreateInput{Subject: " Grace ", PurposeName: "marketing"})
	s.Require().NoError(err)
	s.Equal("Grace", rec.Subject)
	s.Equal(purpose, rec.PurposeID)
	s.Equal("marketing", rec.PurposeName)

	st := s.orch.State()
	s.Equal([]uuid.UUID{rec.ID, existing[0].ID}, ids(st.Active))
	cached, ok := s.store.Get(s.ctx, KeyActive)
	s.True(ok)
	s.Equal(rec.ID, cached[0].ID)
	s.Equal([]audit.EventType{audit.EventConsentCreated}, s.auditor.Types())
}

func (s *OrchestratorSuite) TestCreateUnknownPurposeIsNotFound() {
	_, err := s.orch.Create(s.ctx, models.CreateInput{Subject: "x", PurposeName: "nope"})
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
	s.Equal(0, s.backend.insertCalls)
}

func (s *OrchestratorSuite) TestWritesFailFastWhenDisconnected() {
	s.conn.connected.Store(false)
	s.backend.purposes["research"] = uuid.New()

	_, err := s.orch.Create(s.ctx, models.CreateInput{Subject: "x", PurposeName: "research"})
	s.True(dErrors.Is(err, dErrors.CodeConnectivity))
	err = s.orch.Archive(s.ctx, uuid.New())
	s.True(dErrors.Is(err, dErrors.CodeConnectivity))

	s.Equal(0, s.backend.insertCalls)
	s.Equal(int32(2), s.conn.refreshes.Load(), "writes insist on a fresh probe")
}

func (s *OrchestratorSuite) TestCreateRejectsInvalidInput() {
	_, err := s.orch.Create(s.ctx, models.CreateInput{Subject: "  "})
	s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	s.Equal(int32(0), s.conn.refreshes.Load())
}

func (s *OrchestratorSuite) TestArchiveTimeoutKeepsLocalMove() {
	active, _ := s.seedRemote(2, 0)
	_, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)
	s.backend.archiveBlock = true

	target := active[0].ID
	err = s.orch.Archive(s.ctx, target)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeTimeout))
	s.True(errors.Is(err, ErrArchiveUnconfirmed))

	st := s.orch.State()
	s.NotContains(ids(st.Active), target)
	s.Contains(ids(st.Archived), target)
	cached, ok := s.store.Get(s.ctx, KeyActive)
	s.True(ok)
	s.NotContains(ids(cached), target)
	s.Equal([]audit.EventType{audit.EventConsentArchiveDiverged}, s.auditor.Types())
}

func (s *OrchestratorSuite) TestArchiveMovesRecord() {
	active, _ := s.seedRemote(1, 0)
	_, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.orch.Archive(s.ctx, active[0].ID))
	st := s.orch.State()
	s.Empty(st.Active)
	s.Require().Len(st.Archived, 1)
	s.True(st.Archived[0].Archived)
	s.Equal(s.now, *st.Archived[0].ArchivedAt)
	s.Equal([]uuid.UUID{active[0].ID}, s.backend.archived)

	_, ok := s.store.Get(s.ctx, KeyActive)
	s.False(ok, "an emptied collection is removed from the cache")
	s.Equal([]audit.EventType{audit.EventConsentArchived}, s.auditor.Types())
}

func (s *OrchestratorSuite) TestArchiveUnknownRemoteIsNotFound() {
	s.backend.archiveErr = errors.New("boom")
	err := s.orch.Archive(s.ctx, uuid.New())
	s.True(dErrors.Is(err, dErrors.CodeRemote))
	s.False(errors.Is(err, ErrArchiveUnconfirmed), "nothing moved locally")
	s.Empty(s.auditor.Types())
}

func (s *OrchestratorSuite) TestGetFindsLocalThenRemote() {
	_, archived := s.seedRemote(1, 1)
	_, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)

	got, err := s.orch.Get(s.ctx, archived[0].ID)
	s.Require().NoError(err)
	s.Equal(archived[0].ID, got.ID)
	s.Equal(int32(1), s.conn.checks.Load(), "local hit needs no probe")

	remoteOnly := newRecord("remote", s.now)
	s.backend.remote[remoteOnly.ID] = rowFor(remoteOnly)
	got, err = s.orch.Get(s.ctx, remoteOnly.ID)
	s.Require().NoError(err)
	s.Equal(remoteOnly.ID, got.ID)

	_, err = s.orch.Get(s.ctx, uuid.New())
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	s.conn.connected.Store(false)
	_, err = s.orch.Get(s.ctx, remoteOnly.ID)
	s.True(dErrors.Is(err, dErrors.CodeNotFound), "offline misses are not found")
}

func (s *OrchestratorSuite) TestConnectionStatus() {
	s.conn.connected.Store(false)
	_, _ = s.orch.Load(s.ctx)

	st := s.orch.ConnectionStatus()
	s.Equal(PhaseBackingOff, st.Phase, "idle with a pending retry reads as backing off")
	s.True(st.ConnectionError)
	s.Equal(1, st.Retry.AttemptCount)
	s.Equal(s.now.Add(DefaultRetryPolicy().Nominal(0)), st.Retry.NextRetryAt)
	s.False(st.LastProbe.Connected)
	s.NotEmpty(st.LastError)
}

func (s *OrchestratorSuite) TestSubscribeDeliversLatest() {
	updates, cancel := s.orch.Subscribe()
	first := <-updates
	s.Empty(first.Active)

	s.seedRemote(2, 0)
	_, err := s.orch.Load(s.ctx)
	s.Require().NoError(err)

	var latest State
	s.Eventually(func() bool {
		select {
		case latest = <-updates:
		default:
		}
		return len(latest.Active) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	s.Eventually(func() bool {
		_, open := <-updates
		return !open
	}, time.Second, 5*time.Millisecond)
}

func (s *OrchestratorSuite) TestCloseStopsTimersAndRejectsWork() {
	s.conn.connected.Store(false)
	_, _ = s.orch.Load(s.ctx)
	pending := s.scheduler.last()

	s.orch.Close()
	s.True(pending.stopped.Load())
	s.False(s.orch.Trigger(TriggerForeground))
	_, err := s.orch.Retry(s.ctx)
	s.Error(err)
}
