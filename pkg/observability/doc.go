// Package observability provides structured logging and Prometheus metrics
// for PhoenixKit.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("namespace", "public").Info("schema up to date")
//
// Structured log lines at debug/info/warning/error severity are the only
// externally observable audit trail for store detection, migration, and
// first-user elevation decisions.
//
// # Prometheus Metrics
//
// Create and expose metrics:
//
//	metrics := observability.NewMetrics(nil)
//	http.Handle("/metrics", metrics.Handler())
//
// Metrics cover migration batches, provisioning attempts, elevation
// decisions, owner-guard rejections, and database pool state.
package observability
