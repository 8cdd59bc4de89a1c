package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Migration metrics
	MigrationBatchesTotal   *prometheus.CounterVec
	MigrationBatchDuration  *prometheus.HistogramVec
	MigrationStepsTotal     *prometheus.CounterVec
	InstalledSchemaVersion  *prometheus.GaugeVec

	// Provisioning metrics
	ProvisionAttemptsTotal  *prometheus.CounterVec
	StoreDetectionsTotal    *prometheus.CounterVec

	// Role model metrics
	ElevationDecisionsTotal *prometheus.CounterVec
	OwnerGuardRejections    prometheus.Counter
	RegistrationsTotal      *prometheus.CounterVec

	// Token metrics
	TokensPurgedTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		MigrationBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phoenixkit_migration_batches_total",
				Help: "Total number of migration batches by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		MigrationBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phoenixkit_migration_batch_duration_seconds",
				Help:    "Duration of migration batches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		MigrationStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phoenixkit_migration_steps_total",
				Help: "Total number of individual migration steps applied",
			},
			[]string{"direction"},
		),
		InstalledSchemaVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "phoenixkit_installed_schema_version",
				Help: "Currently installed schema version per namespace",
			},
			[]string{"namespace"},
		),
		ProvisionAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phoenixkit_provision_attempts_total",
				Help: "Total number of auto-provisioning attempts by outcome",
			},
			[]string{"outcome"},
		),
		StoreDetectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phoenixkit_store_detections_total",
				Help: "Total number of data store detection attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		ElevationDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phoenixkit_elevation_decisions_total",
				Help: "First-user elevation decisions observed at registration time",
			},
			[]string{"decision"},
		),
		OwnerGuardRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phoenixkit_owner_guard_rejections_total",
				Help: "Mutations rejected because they would leave zero active Owners",
			},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phoenixkit_registrations_total",
				Help: "Total number of account registrations by outcome",
			},
			[]string{"outcome"},
		),
		TokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phoenixkit_tokens_purged_total",
				Help: "Expired session tokens removed by the janitor",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phoenixkit_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phoenixkit_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.MigrationBatchesTotal,
		m.MigrationBatchDuration,
		m.MigrationStepsTotal,
		m.InstalledSchemaVersion,
		m.ProvisionAttemptsTotal,
		m.StoreDetectionsTotal,
		m.ElevationDecisionsTotal,
		m.OwnerGuardRejections,
		m.RegistrationsTotal,
		m.TokensPurgedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMigration records the outcome and duration of one migration batch
func (m *Metrics) ObserveMigration(direction string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.MigrationBatchesTotal.WithLabelValues(direction, outcome).Inc()
	m.MigrationBatchDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
}

// CollectDBStats copies connection pool statistics into the gauges
func (m *Metrics) CollectDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
