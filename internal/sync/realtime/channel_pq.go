package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"consentsync/internal/platform/logger"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// PQOpener opens LISTEN channels on PostgreSQL. The resource name is the
// notification channel; pq.Listener reconnects on its own.
type PQOpener struct {
	dsn    string
	logger *slog.Logger
}

func NewPQOpener(dsn string, log *slog.Logger) *PQOpener {
	if log == nil {
		log = logger.Discard()
	}
	return &PQOpener{dsn: dsn, logger: log}
}

func (o *PQOpener) Open(ctx context.Context, resource string) (Channel, error) {
	c := &pqChannel{events: make(chan Event, 16), stop: make(chan struct{})}
	c.listener = pq.NewListener(o.dsn, minReconnectInterval, maxReconnectInterval, c.onState(o.logger))
	if err := c.listener.Listen(resource); err != nil {
		_ = c.listener.Close()
		return nil, fmt.Errorf("listen %q: %w", resource, err)
	}
	c.wg.Add(1)
	go c.pump(ctx)
	return c, nil
}

type pqChannel struct {
	listener *pq.Listener
	events   chan Event
	stop     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func (c *pqChannel) Events() <-chan Event { return c.events }

func (c *pqChannel) onState(logger *slog.Logger) pq.EventCallbackType {
	return func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Debug("postgres listener event", "event", ev, "error", err)
		}
		switch ev {
		case pq.ListenerEventDisconnected:
			c.emit(Event{Kind: EventDisconnected})
		case pq.ListenerEventReconnected:
			c.emit(Event{Kind: EventReconnected})
		}
	}
}

func (c *pqChannel) emit(ev Event) {
	select {
	case <-c.stop:
	case c.events <- ev:
	}
}

func (c *pqChannel) pump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case n := <-c.listener.Notify:
			// nil follows a reconnect: notifications may have been missed.
			payload := ""
			if n != nil {
				payload = n.Extra
			}
			c.emit(Event{Kind: EventChange, Payload: payload})
		case <-ticker.C:
			go func() { _ = c.listener.Ping() }()
		}
	}
}

func (c *pqChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		err = c.listener.Close()
		c.wg.Wait()
	})
	return err
}
