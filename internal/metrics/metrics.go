// Package metrics provides Prometheus metrics for the backup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunAttempts tracks the total number of backup runs.
	RunAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_backup_runs_total",
		Help: "Total number of backup runs",
	}, []string{"status"})

	// TenantBackups tracks per-tenant backup outcomes within runs.
	TenantBackups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_backup_tenants_total",
		Help: "Total number of per-tenant backups",
	}, []string{"status"})

	// RunDuration tracks the duration of backup phases.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenant_backup_duration_seconds",
		Help:    "Duration of backup phases in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
	}, []string{"phase"})

	// ArchiveSize tracks the size of uploaded archives.
	ArchiveSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tenant_backup_archive_size_bytes",
		Help: "Size of the last uploaded archive in bytes",
	}, []string{"kind"})

	// StorageOperations tracks remote store operations.
	StorageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_backup_storage_operations_total",
		Help: "Total number of remote store operations",
	}, []string{"operation", "provider", "status"})

	// RunsSuppressed tracks runs skipped by the minimum run interval.
	RunsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenant_backup_runs_suppressed_total",
		Help: "Total number of runs suppressed by the minimum run interval",
	})

	// LastRunTimestamp tracks when the last fully successful run finished.
	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tenant_backup_last_success_timestamp",
		Help: "Unix timestamp of the last fully successful run",
	})

	// MissingFiles tracks file attachments that could not be fetched.
	MissingFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenant_backup_missing_files_total",
		Help: "Total number of file attachments recorded as missing",
	})

	// RestoreOperations tracks restore operations by mode.
	RestoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_backup_restore_operations_total",
		Help: "Total number of restore operations",
	}, []string{"mode", "status"})

	// Info provides static information about the service.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tenant_backup_info",
		Help: "Information about the backup service",
	}, []string{"version", "storage_provider"})
)

// RecordRun records a run outcome. Status is one of success, partial, failure.
func RecordRun(status string) {
	RunAttempts.WithLabelValues(status).Inc()
}

// RecordTenant records a per-tenant backup outcome.
func RecordTenant(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	TenantBackups.WithLabelValues(status).Inc()
}

// RecordStorageOperation records a remote store operation.
func RecordStorageOperation(operation, provider string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	StorageOperations.WithLabelValues(operation, provider, status).Inc()
}

// RecordRestore records a restore operation outcome.
func RecordRestore(mode string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	RestoreOperations.WithLabelValues(mode, status).Inc()
}
