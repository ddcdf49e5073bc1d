package orchestrator

import "context"

// Trigger starts a background load cycle unless one is already in flight or
// a retry is backing off, in which case the trigger is dropped. It reports
// whether a cycle started.
func (o *Orchestrator) Trigger(t Trigger) bool {
	ctx, finish, ok := o.tryBegin(o.baseCtx, true)
	if !ok {
		o.metrics.IncrementTriggerDropped(string(t))
		o.logger.Debug("sync trigger dropped", "trigger", t)
		return false
	}
	go func() {
		defer finish()
		if err := o.runCycle(ctx, t); err != nil {
			o.logger.DebugContext(ctx, "background sync cycle failed", "trigger", t, "error", err)
		}
	}()
	return true
}

// NetworkRestored resets retry state, drops any pending retry and triggers a
// refresh. A realtime subscription skipped while offline is opened now.
func (o *Orchestrator) NetworkRestored(ctx context.Context) bool {
	o.mu.Lock()
	o.resetRetryLocked()
	o.publishLocked()
	o.mu.Unlock()

	o.ensureRealtime(ctx)
	return o.Trigger(TriggerOnline)
}

// Foreground triggers a refresh when the application comes to the front.
func (o *Orchestrator) Foreground() bool {
	return o.Trigger(TriggerForeground)
}
