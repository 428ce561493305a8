package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder observes the outcome of a named operation.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// MetricsConfig configures prometheus collection.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// Metrics holds the prometheus collectors of the engine. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	initOutcomes    *prometheus.CounterVec
	tierFailures    *prometheus.CounterVec
	writes          *prometheus.CounterVec
	persists        *prometheus.CounterVec
	persistDuration prometheus.Histogram
	snapshotBytes   prometheus.Gauge
	operations      *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors on a private registry. It
// returns nil when metrics are disabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "praxis"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		initOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "init_total",
			Help:      "Database initializations by origin (or error).",
		}, []string{"origin"}),
		tierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "init_tier_skipped_total",
			Help:      "Bootstrap tiers that were unavailable and fell through.",
		}, []string{"tier"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "writes_total",
			Help:      "Committed repository writes.",
		}, []string{"entity", "action"}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "snapshot_persist_total",
			Help:      "Durable snapshot writes by result.",
		}, []string{"result"}),
		persistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "snapshot_persist_duration_seconds",
			Help:      "Time spent exporting and storing a snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "snapshot_bytes",
			Help:      "Size of the last exported snapshot.",
		}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations by name and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
	m.registry.MustRegister(
		m.initOutcomes,
		m.tierFailures,
		m.writes,
		m.persists,
		m.persistDuration,
		m.snapshotBytes,
		m.operations,
	)
	return m
}

// Registry exposes the private registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InitOutcome counts a finished initialization; origin is "error" on failure.
func (m *Metrics) InitOutcome(origin string) {
	if m == nil {
		return
	}
	m.initOutcomes.WithLabelValues(origin).Inc()
}

// TierSkipped counts a bootstrap tier that fell through.
func (m *Metrics) TierSkipped(tier string) {
	if m == nil {
		return
	}
	m.tierFailures.WithLabelValues(tier).Inc()
}

// Write counts a committed repository write.
func (m *Metrics) Write(entity, action string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(entity, action).Inc()
}

// Persist records a durable snapshot write.
func (m *Metrics) Persist(err error, size int, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	} else {
		m.snapshotBytes.Set(float64(size))
	}
	m.persists.WithLabelValues(result).Inc()
	m.persistDuration.Observe(d.Seconds())
}

// Observe implements Recorder.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if m == nil || operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.operations.WithLabelValues(operation, status).Observe(duration.Seconds())
}
