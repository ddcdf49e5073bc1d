package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the sync layer: cache tiers, probes,
// load cycles and retry scheduling. All methods are nil-safe so components
// built without metrics need no checks.
type Metrics struct {
	CacheLookups      *prometheus.CounterVec
	Probes            *prometheus.CounterVec
	ConnectionUp      prometheus.Gauge
	TriggersDropped   *prometheus.CounterVec
	RetriesScheduled  *prometheus.CounterVec
	RowsDropped       prometheus.Counter
	LoadCycleDuration *prometheus.HistogramVec
}

// New registers the sync metrics with reg. Pass prometheus.DefaultRegisterer
// in main and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_cache_lookups_total",
			Help: "Cache lookups by tier and result (hit, miss, expired, malformed)",
		}, []string{"tier", "result"}),
		Probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_probes_total",
			Help: "Connectivity probe attempts by stage (internet, backend) and result",
		}, []string{"stage", "result"}),
		ConnectionUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "consentsync_connection_up",
			Help: "1 when the last connectivity check reached the backend",
		}),
		TriggersDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_triggers_dropped_total",
			Help: "Refresh triggers discarded because a load cycle was in flight",
		}, []string{"trigger"}),
		RetriesScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_retries_scheduled_total",
			Help: "Background retries scheduled by mode (exponential, periodic)",
		}, []string{"mode"}),
		RowsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "consentsync_rows_dropped_total",
			Help: "Remote rows dropped because they did not map to a consent record",
		}),
		LoadCycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentsync_load_cycle_duration_seconds",
			Help:    "Duration of load cycles by outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordCacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) RecordProbe(stage string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.Probes.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionUp.Set(1)
		return
	}
	m.ConnectionUp.Set(0)
}

func (m *Metrics) IncrementTriggerDropped(trigger string) {
	if m == nil {
		return
	}
	m.TriggersDropped.WithLabelValues(trigger).Inc()
}

func (m *Metrics) IncrementRetryScheduled(mode string) {
	if m == nil {
		return
	}
	m.RetriesScheduled.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncrementRowsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsDropped.Add(float64(n))
}

// ObserveLoadCycle records a cycle duration. Call with time.Now() taken at
// the start of the cycle.
func (m *Metrics) ObserveLoadCycle(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.LoadCycleDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
