package orchestrator

import (
	"context"

	dErrors "consentsync/pkg/domain-errors"
	"consentsync/pkg/platform/sentinel"
)

// tryBegin claims the single load-cycle slot. It fails when a cycle is
// already in flight or the orchestrator is closed. Background claims also
// fail while a retry is pending: the timer owns the next attempt.
func (o *Orchestrator) tryBegin(parent context.Context, background bool) (context.Context, func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.cycleCancel != nil || (background && o.timer != nil) {
		return nil, nil, false
	}
	ctx, finish := o.beginLocked(parent)
	return ctx, finish, true
}

// beginLocked moves to Probing and returns the cycle context and the func
// that releases the slot. Caller holds mu.
func (o *Orchestrator) beginLocked(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	o.phase = PhaseProbing
	o.cycleCancel = cancel
	o.cycleDone = done
	o.bg.Add(1)
	return ctx, func() {
		cancel()
		o.mu.Lock()
		o.phase = PhaseIdle
		o.cycleCancel = nil
		o.cycleDone = nil
		o.mu.Unlock()
		close(done)
		o.bg.Done()
	}
}

// acquireManual preempts whatever is running: pending retry timers are
// stopped, an in-flight cycle is cancelled and waited for, and retry state
// and the connection error are cleared before the slot is handed over.
func (o *Orchestrator) acquireManual(ctx context.Context) (context.Context, func(), error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, nil, dErrors.Wrap(sentinel.ErrClosed, dErrors.CodeInternal, "sync layer is shut down")
		}
		o.stopTimerLocked()
		if o.cycleCancel == nil {
			cycleCtx, finish := o.beginLocked(ctx)
			o.resetRetryLocked()
			o.state.ConnectionError = false
			o.state.LastError = ""
			o.publishLocked()
			o.mu.Unlock()
			return cycleCtx, finish, nil
		}
		cancel, done := o.cycleCancel, o.cycleDone
		o.mu.Unlock()

		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "manual retry interrupted")
		}
	}
}
