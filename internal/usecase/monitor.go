package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

type MonitorLedger interface {
	Backups() ([]domain.BackupRecord, error)
	LatestBackup(t domain.BackupType) (*domain.BackupRecord, error)
	LatestVerification(backupID string) (*domain.VerificationEntry, error)
	Failures() ([]domain.RunFailure, error)
	AppendReport(r domain.MonitoringReport) error
}

// Monitor reads the ledgers and decides whether protection has lapsed. It
// holds no state of its own; every check recomputes from the record of what
// actually happened.
type Monitor struct {
	ledger   MonitorLedger
	notifier domain.Notifier
	logger   Logger
	cfg      config.MonitoringConfig
	rto      time.Duration
}

func NewMonitor(ledger MonitorLedger, notifier domain.Notifier, logger Logger, cfg config.MonitoringConfig, rto time.Duration) *Monitor {
	return &Monitor{ledger: ledger, notifier: notifier, logger: logger, cfg: cfg, rto: rto}
}

func (uc *Monitor) interval(t domain.BackupType) time.Duration {
	if t == domain.BackupTypeIncremental {
		return uc.cfg.IncrementalInterval
	}
	return uc.cfg.FullInterval
}

// CheckStatus computes the health view for one backup type at the given
// instant. A backup is overdue once now exceeds lastBackup+interval+tolerance.
func (uc *Monitor) CheckStatus(t domain.BackupType, now time.Time) (domain.BackupStatus, error) {
	status := domain.BackupStatus{Type: t, Verification: domain.VerifyStateNotVerified}

	last, err := uc.ledger.LatestBackup(t)
	if err != nil {
		return status, err
	}
	if last == nil {
		status.IsOverdue = true
		return status, nil
	}

	status.LastBackup = last
	status.NextExpected = last.CreatedAt.Add(uc.interval(t))
	// Overdue at exactly interval+tolerance, not one instant after.
	status.IsOverdue = !now.Before(status.NextExpected.Add(uc.cfg.Tolerance))

	verification, err := uc.ledger.LatestVerification(last.ID)
	if err != nil {
		return status, err
	}
	switch {
	case verification == nil:
		status.Verification = domain.VerifyStateNotVerified
	case verification.Status == domain.VerificationFailed:
		status.Verification = domain.VerifyStateFailed
	default:
		status.Verification = domain.VerifyStateVerified
	}

	return status, nil
}

// GenerateReport aggregates per-type status, rolling failure counts, storage
// use and the estimated recovery time, then appends the report to the monitor
// log. Non-healthy reports are pushed to the notification sink.
func (uc *Monitor) GenerateReport(ctx context.Context) (*domain.MonitoringReport, error) {
	now := time.Now()
	report := domain.MonitoringReport{Timestamp: now, Status: domain.HealthHealthy}

	for _, t := range []domain.BackupType{domain.BackupTypeFull, domain.BackupTypeIncremental} {
		status, err := uc.CheckStatus(t, now)
		if err != nil {
			return nil, err
		}
		report.PerType = append(report.PerType, status)

		if status.IsOverdue {
			report.Alerts = append(report.Alerts, domain.Alert{
				Severity: domain.SeverityCritical,
				Code:     "backup_overdue",
				Message:  fmt.Sprintf("%s backup is overdue (expected by %s)", t, status.NextExpected.Format(time.RFC3339)),
			})
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("run a %s backup immediately and check the scheduler log", t))
		}
		switch status.Verification {
		case domain.VerifyStateFailed:
			report.Alerts = append(report.Alerts, domain.Alert{
				Severity: domain.SeverityCritical,
				Code:     "verification_failed",
				Message:  fmt.Sprintf("latest %s backup failed verification", t),
			})
		case domain.VerifyStateNotVerified:
			if status.LastBackup != nil {
				report.Alerts = append(report.Alerts, domain.Alert{
					Severity: domain.SeverityWarning,
					Code:     "backup_not_verified",
					Message:  fmt.Sprintf("latest %s backup has not been verified", t),
				})
			}
		}
	}

	metrics, err := uc.metrics(now)
	if err != nil {
		return nil, err
	}
	report.Metrics = metrics

	if uc.rto > 0 {
		estimated := time.Duration(metrics.EstimatedRecoverySeconds * float64(time.Second))
		if estimated > uc.rto {
			report.Alerts = append(report.Alerts, domain.Alert{
				Severity: domain.SeverityWarning,
				Code:     "estimated_recovery_exceeds_rto",
				Message: fmt.Sprintf("estimated recovery time %s exceeds objective %s",
					estimated.Round(time.Minute), uc.rto),
			})
			report.Recommendations = append(report.Recommendations,
				"take a full backup to shorten the incremental chain")
		}
	}

	if quota := uc.cfg.StorageQuotaGB * 1024 * 1024 * 1024; quota > 0 {
		if metrics.TotalStorageBytes > quota*9/10 {
			report.Alerts = append(report.Alerts, domain.Alert{
				Severity: domain.SeverityWarning,
				Code:     "storage_near_quota",
				Message: fmt.Sprintf("backup storage %.1f GB is above 90%% of the %d GB quota",
					float64(metrics.TotalStorageBytes)/(1024*1024*1024), uc.cfg.StorageQuotaGB),
			})
			report.Recommendations = append(report.Recommendations,
				"tighten retention or raise the storage quota")
		}
	}

	for _, alert := range report.Alerts {
		if alert.Severity == domain.SeverityCritical {
			report.Status = domain.HealthCritical
			break
		}
		report.Status = domain.HealthWarning
	}

	if err := uc.ledger.AppendReport(report); err != nil {
		return nil, err
	}

	if report.Status != domain.HealthHealthy {
		details := ""
		for _, alert := range report.Alerts {
			details += fmt.Sprintf("[%s] %s\n", alert.Severity, alert.Message)
		}
		if err := uc.notifier.Notify(ctx, domain.Notification{
			Status:    string(report.Status),
			Details:   details,
			Timestamp: now,
		}); err != nil {
			uc.logger.Errorf("Failed to notify sink: %v", err)
		}
	}

	uc.logger.Infof("Monitoring report: %s, %d alert(s)", report.Status, len(report.Alerts))
	return &report, nil
}

func (uc *Monitor) metrics(now time.Time) (domain.ReportMetrics, error) {
	var m domain.ReportMetrics

	failures, err := uc.ledger.Failures()
	if err != nil {
		return m, err
	}
	weekAgo := now.AddDate(0, 0, -7)
	for _, f := range failures {
		if f.Timestamp.After(weekAgo) {
			m.FailureCount7d++
		}
	}

	records, err := uc.ledger.Backups()
	if err != nil {
		return m, err
	}

	var durations float64
	var counted int
	incrSinceFull := 0
	for _, rec := range records {
		m.TotalStorageBytes += rec.SizeBytes
		if rec.CreatedAt.After(weekAgo) {
			durations += rec.DurationSeconds
			counted++
		}
		if rec.Type == domain.BackupTypeFull {
			incrSinceFull = 0
		} else {
			incrSinceFull++
		}
	}
	if counted > 0 {
		m.AvgDurationSeconds = durations / float64(counted)
	}

	m.EstimatedRecoverySeconds = uc.cfg.FullRestoreBase.Seconds() +
		float64(incrSinceFull)*uc.cfg.PerIncremental.Seconds()

	return m, nil
}
