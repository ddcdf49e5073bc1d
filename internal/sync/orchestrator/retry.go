package orchestrator

import (
	"context"
	"time"
)

// RetryPolicy shapes background retries. Attempts below MaxAttempts wait
// min(Cap, Base·2^attempt) with ±Jitter; after that every retry waits
// Periodic.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	Jitter      float64
	MaxAttempts int
	Periodic    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        3 * time.Second,
		Cap:         120 * time.Second,
		Jitter:      0.3,
		MaxAttempts: 15,
		Periodic:    5 * time.Minute,
	}
}

// Nominal is the un-jittered delay for a zero-based attempt.
func (p RetryPolicy) Nominal(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	return min(d, p.Cap)
}

// Delay applies jitter to Nominal. r is uniform in [0, 1); 0.5 means no
// jitter.
func (p RetryPolicy) Delay(attempt int, r float64) time.Duration {
	factor := 1 + p.Jitter*(2*r-1)
	return time.Duration(float64(p.Nominal(attempt)) * factor)
}

// scheduleRetry arms the next background retry. While one is pending, further
// failures neither reschedule nor count as attempts.
func (o *Orchestrator) scheduleRetry(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.timer != nil {
		return
	}

	retry := &o.state.Retry
	mode := "exponential"
	var delay time.Duration
	if retry.AttemptCount < o.policy.MaxAttempts {
		delay = o.policy.Delay(retry.AttemptCount, o.rand())
		retry.AttemptCount++
		retry.Periodic = false
	} else {
		mode = "periodic"
		delay = o.policy.Periodic
		retry.Periodic = true
	}
	now := o.now()
	retry.LastAttemptAt = now
	retry.NextRetryAt = now.Add(delay)

	o.timerGen++
	gen := o.timerGen
	o.timer = o.schedule(delay, func() { o.fireRetry(gen) })
	o.metrics.IncrementRetryScheduled(mode)
	o.logger.InfoContext(ctx, "sync retry scheduled",
		"mode", mode,
		"attempt", retry.AttemptCount,
		"delay", delay,
	)
	o.publishLocked()
}

func (o *Orchestrator) fireRetry(gen uint64) {
	o.mu.Lock()
	if gen != o.timerGen || o.timer == nil {
		o.mu.Unlock()
		return
	}
	o.timer = nil
	o.mu.Unlock()
	o.Trigger(TriggerScheduled)
}

// stopTimerLocked cancels the pending retry. The generation bump makes a
// timer that already fired a no-op.
func (o *Orchestrator) stopTimerLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.timerGen++
}

// resetRetryLocked clears retry bookkeeping and any pending timer.
func (o *Orchestrator) resetRetryLocked() {
	o.stopTimerLocked()
	o.state.Retry = RetryState{}
}
