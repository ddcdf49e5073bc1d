package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"consentsync/internal/platform/logger"
	"consentsync/pkg/requestcontext"
)

const defaultInboxSize = 256

// Sink persists or forwards events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher queues events for a Worker. When the inbox is full the event is
// dropped and counted.
type Publisher struct {
	inbox   chan Event
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Int64
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithInboxSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan Event, n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		inbox:  make(chan Event, defaultInboxSize),
		logger: logger.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit stamps the event with an id, the time and the request id carried by
// ctx, then enqueues it without blocking.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	select {
	case p.inbox <- event:
	default:
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "audit inbox full, event dropped",
			"type", event.Type,
			"consent_id", event.ConsentID,
		)
	}
}

// Inbox is the channel a Worker drains.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}

// Dropped returns how many events were discarded on a full inbox.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}
