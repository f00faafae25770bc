package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Sync cycle metrics
	SyncCyclesTotal   *prometheus.CounterVec
	SyncCycleDuration prometheus.Histogram
	SyncBackoff       prometheus.Gauge
	OutboxPushed      prometheus.Counter
	RecordsPulled     prometheus.Counter

	// Tenant pool metrics
	PoolClients   prometheus.Gauge
	PoolEvictions prometheus.Counter

	// Session metrics
	LoginsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		SyncCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posync_sync_cycles_total",
				Help: "Total number of sync cycles by outcome",
			},
			[]string{"outcome"},
		),

		SyncCycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "posync_sync_cycle_duration_seconds",
				Help:    "Duration of sync cycles",
				Buckets: prometheus.DefBuckets,
			},
		),

		SyncBackoff: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "posync_sync_backoff_seconds",
				Help: "Delay before the next scheduled sync cycle",
			},
		),

		OutboxPushed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "posync_outbox_pushed_total",
				Help: "Outbox entries confirmed by the remote",
			},
		),

		RecordsPulled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "posync_records_pulled_total",
				Help: "Remote changes applied locally",
			},
		),

		PoolClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "posync_tenant_pool_clients",
				Help: "Schema-scoped clients currently pooled",
			},
		),

		PoolEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "posync_tenant_pool_evictions_total",
				Help: "Schema-scoped clients evicted from the pool",
			},
		),

		LoginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posync_logins_total",
				Help: "Login attempts by mode and result",
			},
			[]string{"mode", "result"},
		),
	}
}

// RecordCycle records a completed sync cycle. outcome is the resulting
// worker state.
func (m *Metrics) RecordCycle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncCyclesTotal.WithLabelValues(outcome).Inc()
	m.SyncCycleDuration.Observe(seconds)
}

func (m *Metrics) UpdateBackoff(seconds float64) {
	if m == nil {
		return
	}
	m.SyncBackoff.Set(seconds)
}

func (m *Metrics) RecordPushed(n int) {
	if m == nil {
		return
	}
	m.OutboxPushed.Add(float64(n))
}

func (m *Metrics) RecordPulled(n int) {
	if m == nil {
		return
	}
	m.RecordsPulled.Add(float64(n))
}

func (m *Metrics) UpdatePoolClients(n int) {
	if m == nil {
		return
	}
	m.PoolClients.Set(float64(n))
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.PoolEvictions.Inc()
}

func (m *Metrics) RecordLogin(mode, result string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(mode, result).Inc()
}
