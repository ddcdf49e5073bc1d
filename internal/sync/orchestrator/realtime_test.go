package orchestrator

import (
	"context"
	"time"

	"consentsync/internal/sync/realtime"
)

type pushChannel struct {
	events chan realtime.Event
}

func (c *pushChannel) Events() <-chan realtime.Event { return c.events }
func (c *pushChannel) Close() error                  { return nil }

type pushOpener struct {
	channel *pushChannel
	ctx     context.Context
}

func (o *pushOpener) Open(ctx context.Context, _ string) (realtime.Channel, error) {
	o.ctx = ctx
	return o.channel, nil
}

type offlineFlag struct{ offline bool }

func (f *offlineFlag) OfflineMode(context.Context) bool     { return f.offline }
func (f *offlineFlag) CheckConnection(context.Context) bool { return true }

func (s *OrchestratorSuite) TestRealtimePushTriggersRefresh() {
	s.seedRemote(1, 0)
	ch := &pushChannel{events: make(chan realtime.Event)}
	manager := realtime.NewManager(&pushOpener{channel: ch}, &offlineFlag{})
	s.orch = s.newOrchestrator(WithRealtime(manager, "consents_changed"))
	s.orch.Start(s.ctx)

	ch.events <- realtime.Event{Kind: realtime.EventChange}
	s.Eventually(func() bool { return s.backend.Calls(false) == 1 }, time.Second, 5*time.Millisecond)
	s.wait()
	s.Len(s.orch.State().Active, 1)
}

func (s *OrchestratorSuite) TestRealtimeOpenedOnceOnlineAfterOfflineStart() {
	ch := &pushChannel{events: make(chan realtime.Event)}
	flag := &offlineFlag{offline: true}
	manager := realtime.NewManager(&pushOpener{channel: ch}, flag)
	s.orch = s.newOrchestrator(WithRealtime(manager, "consents_changed"))

	s.orch.Start(s.ctx)
	s.False(s.orch.rtHandle.Active())

	flag.offline = false
	s.orch.NetworkRestored(s.ctx)
	s.wait()
	s.True(s.orch.rtHandle.Active())
}

func (s *OrchestratorSuite) TestRealtimeSurvivesRequestThatRestoredNetwork() {
	ch := &pushChannel{events: make(chan realtime.Event)}
	flag := &offlineFlag{offline: true}
	opener := &pushOpener{channel: ch}
	manager := realtime.NewManager(opener, flag)
	s.orch = s.newOrchestrator(WithRealtime(manager, "consents_changed"))
	s.orch.Start(s.ctx)

	flag.offline = false
	reqCtx, cancel := context.WithCancel(s.ctx)
	s.orch.NetworkRestored(reqCtx)
	cancel()
	s.wait()

	s.Require().NotNil(opener.ctx)
	s.NoError(opener.ctx.Err(), "the channel outlives the request")
	s.True(s.orch.rtHandle.Active())

	s.seedRemote(1, 0)
	ch.events <- realtime.Event{Kind: realtime.EventChange}
	s.Eventually(func() bool { return s.backend.Calls(false) == 2 }, time.Second, 5*time.Millisecond)
	s.wait()
	s.Len(s.orch.State().Active, 1)
}
