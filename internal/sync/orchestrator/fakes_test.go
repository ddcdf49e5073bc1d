package orchestrator

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"consentsync/internal/audit"
	"consentsync/internal/consent/models"
	"consentsync/internal/sync/connectivity"
	"consentsync/pkg/platform/sentinel"
)

func rowFor(rec models.Record) models.Row {
	row := models.Row{
		ID:          sql.NullString{String: rec.ID.String(), Valid: true},
		Subject:     sql.NullString{String: rec.Subject, Valid: true},
		PurposeID:   sql.NullString{String: rec.PurposeID.String(), Valid: true},
		PurposeName: sql.NullString{String: rec.PurposeName, Valid: rec.PurposeName != ""},
		Notes:       sql.NullString{String: rec.Notes, Valid: true},
		CreatedAt:   sql.NullTime{Time: rec.CreatedAt, Valid: true},
		Archived:    sql.NullBool{Bool: rec.Archived, Valid: true},
	}
	if rec.ArchivedAt != nil {
		row.ArchivedAt = sql.NullTime{Time: *rec.ArchivedAt, Valid: true}
	}
	return row
}

func newRecord(subject string, created time.Time) models.Record {
	return models.Record{
		ID:          uuid.New(),
		Subject:     subject,
		PurposeID:   uuid.New(),
		PurposeName: "research",
		CreatedAt:   created,
	}
}

// fakeBackend serves canned rows. A gate for a partition makes FetchConsents
// signal entry and then block until the gate closes or ctx ends.
type fakeBackend struct {
	mu         sync.Mutex
	rows       map[bool][]models.Row
	fetchErr   map[bool]error
	gates      map[bool]chan struct{}
	entered    chan bool
	fetchCalls map[bool]int

	purposes     map[string]uuid.UUID
	insertCalls  int
	archiveErr   error
	archiveBlock bool
	archived     []uuid.UUID
	remote       map[uuid.UUID]models.Row
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rows:       map[bool][]models.Row{},
		fetchErr:   map[bool]error{},
		gates:      map[bool]chan struct{}{},
		entered:    make(chan bool, 16),
		fetchCalls: map[bool]int{},
		purposes:   map[string]uuid.UUID{},
		remote:     map[uuid.UUID]models.Row{},
	}
}

func (b *fakeBackend) FetchConsents(ctx context.Context, archived bool) ([]models.Row, error) {
	b.mu.Lock()
	b.fetchCalls[archived]++
	gate := b.gates[archived]
	rows, err := b.rows[archived], b.fetchErr[archived]
	b.mu.Unlock()

	if gate != nil {
		b.entered <- archived
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *fakeBackend) Calls(archived bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchCalls[archived]
}

func (b *fakeBackend) GetConsent(_ context.Context, id uuid.UUID) (models.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.remote[id]
	if !ok {
		return models.Row{}, sentinel.ErrNotFound
	}
	return row, nil
}

func (b *fakeBackend) ResolvePurpose(_ context.Context, name string) (uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.purposes[name]
	if !ok {
		return uuid.Nil, sentinel.ErrNotFound
	}
	return id, nil
}

func (b *fakeBackend) InsertConsent(_ context.Context, rec models.Record) (models.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertCalls++
	row := rowFor(rec)
	b.remote[rec.ID] = row
	return row, nil
}

func (b *fakeBackend) ArchiveConsent(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	block, err := b.archiveBlock, b.archiveErr
	b.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.archived = append(b.archived, id)
	return nil
}

type fakeConn struct {
	connected atomic.Bool
	checks    atomic.Int32
	refreshes atomic.Int32
	onProbe   func()
}

func (c *fakeConn) CheckConnection(context.Context) bool {
	c.checks.Add(1)
	if c.onProbe != nil {
		c.onProbe()
	}
	return c.connected.Load()
}

func (c *fakeConn) Refresh(context.Context) bool {
	c.refreshes.Add(1)
	if c.onProbe != nil {
		c.onProbe()
	}
	return c.connected.Load()
}

func (c *fakeConn) Status() connectivity.Status {
	return connectivity.Status{Connected: c.connected.Load()}
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) schedule(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *fakeAuditor) Emit(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *fakeAuditor) Types() []audit.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.EventType
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}
