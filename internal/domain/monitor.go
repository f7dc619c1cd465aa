package domain

import "time"

type HealthState string

const (
	HealthHealthy  HealthState = "HEALTHY"
	HealthWarning  HealthState = "WARNING"
	HealthCritical HealthState = "CRITICAL"
)

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type Alert struct {
	Severity AlertSeverity `json:"severity"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
}

// BackupStatus is the per-type health view computed by CheckStatus.
type BackupStatus struct {
	Type         BackupType    `json:"type"`
	LastBackup   *BackupRecord `json:"last_backup,omitempty"`
	NextExpected time.Time     `json:"next_expected"`
	IsOverdue    bool          `json:"is_overdue"`
	Verification string        `json:"verification"`
}

type ReportMetrics struct {
	FailureCount7d           int     `json:"failure_count_7d"`
	AvgDurationSeconds       float64 `json:"avg_duration_seconds"`
	TotalStorageBytes        int64   `json:"total_storage_bytes"`
	EstimatedRecoverySeconds float64 `json:"estimated_recovery_seconds"`
}

// MonitoringReport is regenerated on every check and persisted only as a JSON
// log line; it carries no identity of its own.
type MonitoringReport struct {
	Timestamp       time.Time      `json:"timestamp"`
	Status          HealthState    `json:"status"`
	PerType         []BackupStatus `json:"per_type"`
	Metrics         ReportMetrics  `json:"metrics"`
	Alerts          []Alert        `json:"alerts"`
	Recommendations []string       `json:"recommendations"`
}

const (
	VerifyStateVerified    = "verified"
	VerifyStateNotVerified = "not_verified"
	VerifyStateFailed      = "failed"
)
