package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentsync/internal/consent/models"
	dErrors "consentsync/pkg/domain-errors"
)

// Load returns the consent collections. A warm caller (state in memory or an
// unexpired cache entry) gets that snapshot at once and a refresh runs in the
// background. A cold caller waits for one load cycle and sees its error.
func (o *Orchestrator) Load(ctx context.Context) (State, error) {
	if st, ok := o.warmSnapshot(ctx); ok {
		o.Trigger(TriggerLoad)
		return st, nil
	}

	cycleCtx, finish, ok := o.tryBegin(ctx, false)
	if !ok {
		return o.State(), nil
	}
	defer finish()
	err := o.runCycle(cycleCtx, TriggerLoad)
	return o.State(), err
}

// Retry is the manual retry: it preempts pending retries and any in-flight
// cycle, resets retry state and runs a cycle with a fresh probe. It never
// schedules background retries; failures are returned.
func (o *Orchestrator) Retry(ctx context.Context) (State, error) {
	cycleCtx, finish, err := o.acquireManual(ctx)
	if err != nil {
		return o.State(), err
	}
	defer finish()
	err = o.runCycle(cycleCtx, TriggerManual)
	return o.State(), err
}

func (o *Orchestrator) warmSnapshot(ctx context.Context) (State, bool) {
	o.mu.Lock()
	if o.loaded {
		st := o.state
		o.mu.Unlock()
		return st, true
	}
	o.mu.Unlock()

	active, okActive := o.cache.Get(ctx, KeyActive)
	archived, okArchived := o.cache.Get(ctx, KeyArchived)
	if !okActive && !okArchived {
		return State{}, false
	}

	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.loaded {
		o.state.Active = active
		o.state.Archived = archived
		o.loaded = true
		o.publishLocked()
	}
	return o.state, true
}

// runCycle is one pass of probe then fetch. Background triggers that fail on
// connectivity or timeouts schedule a retry; manual cycles never do.
func (o *Orchestrator) runCycle(ctx context.Context, trigger Trigger) (err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "sync.load_cycle",
		trace.WithAttributes(attribute.String("trigger", string(trigger))))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		o.metrics.ObserveLoadCycle(outcome, start)
		span.End()
	}()

	o.setPhase(PhaseProbing)
	connected := o.probe(ctx, trigger == TriggerManual)
	if ctx.Err() != nil {
		return aborted(ctx)
	}
	if !connected {
		err := dErrors.New(dErrors.CodeConnectivity, "backend unreachable")
		o.recordFailure(err, true)
		if trigger != TriggerManual {
			o.scheduleRetry(ctx)
		}
		return err
	}
	o.markConnected()

	o.setPhase(PhaseFetching)
	if err := o.fetchAndCommit(ctx); err != nil {
		if ctx.Err() != nil {
			return aborted(ctx)
		}
		o.recordFailure(err, false)
		if trigger != TriggerManual && retryable(err) {
			o.scheduleRetry(ctx)
		}
		return err
	}
	return nil
}

// probe races the connectivity check against the probe ceiling. fresh skips
// the monitor's debounce window.
func (o *Orchestrator) probe(ctx context.Context, fresh bool) bool {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.ProbeCeiling)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		if fresh {
			result <- o.conn.Refresh(ctx)
			return
		}
		result <- o.conn.CheckConnection(ctx)
	}()

	select {
	case connected := <-result:
		return connected
	case <-ctx.Done():
		o.logger.WarnContext(ctx, "connectivity check did not finish before ceiling", "ceiling", o.timeouts.ProbeCeiling)
		return false
	}
}

// fetchAndCommit fetches active then archived. If only the archived leg
// fails, the active collection is still committed.
func (o *Orchestrator) fetchAndCommit(ctx context.Context) error {
	active, err := o.fetchPartition(ctx, models.PartitionActive)
	if err != nil {
		return err
	}
	archived, err := o.fetchPartition(ctx, models.PartitionArchived)
	if err != nil {
		if ctx.Err() == nil {
			o.commitFetched(ctx, &active, nil)
			o.logger.WarnContext(ctx, "archived fetch failed, active consents committed", "error", err)
		}
		return err
	}
	o.commitFetched(ctx, &active, &archived)
	return nil
}

func (o *Orchestrator) fetchPartition(ctx context.Context, p models.Partition) ([]models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Fetch)
	defer cancel()

	rows, err := o.backend.FetchConsents(ctx, p.Archived())
	if err != nil {
		return nil, classify(ctx, err, "fetch "+string(p)+" consents")
	}
	records, dropped := models.MapRows(rows, p)
	for _, derr := range dropped {
		o.logger.WarnContext(ctx, "dropping consent row", "partition", p, "error", derr)
	}
	o.metrics.IncrementRowsDropped(len(dropped))
	return records, nil
}

// commitFetched caches then publishes fetched collections. A nil pointer
// leaves that collection as is. Empty results are published but never
// replace a cached entry.
func (o *Orchestrator) commitFetched(ctx context.Context, active, archived *[]models.Record) {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	if active != nil {
		o.writeCache(ctx, KeyActive, *active, false)
	}
	if archived != nil {
		o.writeCache(ctx, KeyArchived, *archived, false)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if active != nil {
		o.state.Active = *active
	}
	if archived != nil {
		o.state.Archived = *archived
	}
	o.loaded = true
	o.publishLocked()
}

// mutate applies a local change to both collections, writes the cache and
// publishes, in that order. fn reports whether anything changed.
func (o *Orchestrator) mutate(ctx context.Context, fn func(active, archived []models.Record) ([]models.Record, []models.Record, bool)) {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	o.mu.Lock()
	active, archived, changed := fn(o.state.Active, o.state.Archived)
	o.mu.Unlock()
	if !changed {
		return
	}

	o.writeCache(ctx, KeyActive, active, true)
	o.writeCache(ctx, KeyArchived, archived, true)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Active = active
	o.state.Archived = archived
	o.loaded = true
	o.publishLocked()
}

// writeCache stores records under key. A local change that empties a
// collection deletes the key so the cache cannot resurrect moved records.
func (o *Orchestrator) writeCache(ctx context.Context, key string, records []models.Record, local bool) {
	if len(records) == 0 {
		if local {
			if err := o.cache.Delete(ctx, key); err != nil {
				o.logger.WarnContext(ctx, "cache delete failed", "key", key, "error", err)
			}
		}
		return
	}
	if err := o.cache.Set(ctx, key, records, o.cacheTTL); err != nil {
		o.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

// markConnected clears the connection error and retry state once a probe
// succeeds. A fetch failure after this starts backoff from the first attempt.
func (o *Orchestrator) markConnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetRetryLocked()
	o.state.ConnectionError = false
	o.state.LastError = ""
	o.publishLocked()
}

func (o *Orchestrator) recordFailure(err error, connectionError bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if connectionError {
		o.state.ConnectionError = true
	}
	o.state.LastError = err.Error()
	o.publishLocked()
}
