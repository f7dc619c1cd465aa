package usecase

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

func monitorConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FullInterval:        24 * time.Hour,
		IncrementalInterval: 6 * time.Hour,
		Tolerance:           2 * time.Hour,
		FullRestoreBase:     30 * time.Minute,
		PerIncremental:      5 * time.Minute,
		StorageQuotaGB:      1,
	}
}

func TestMonitorCheckStatus(t *testing.T) {
	Convey("Given a Monitor over the backup ledger", t, func() {
		now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		led := &memLedger{}
		uc := NewMonitor(led, &memNotifier{}, nopLogger{}, monitorConfig(), 4*time.Hour)

		Convey("When the last full backup is 25 hours old", func() {
			led.backups = []domain.BackupRecord{{
				ID: "f1", Type: domain.BackupTypeFull,
				CreatedAt: now.Add(-25 * time.Hour), StorageKey: "backup-f1.sql.gz.enc",
			}}

			status, err := uc.CheckStatus(domain.BackupTypeFull, now)

			Convey("It is inside the tolerance window, so not overdue", func() {
				So(err, ShouldBeNil)
				So(status.IsOverdue, ShouldBeFalse)
				So(status.NextExpected.Equal(now.Add(-1*time.Hour)), ShouldBeTrue)
				So(status.Verification, ShouldEqual, domain.VerifyStateNotVerified)
			})
		})

		Convey("When the last full backup is exactly 26 hours old", func() {
			led.backups = []domain.BackupRecord{{
				ID: "f1", Type: domain.BackupTypeFull,
				CreatedAt: now.Add(-26 * time.Hour), StorageKey: "backup-f1.sql.gz.enc",
			}}

			status, err := uc.CheckStatus(domain.BackupTypeFull, now)

			Convey("Interval plus tolerance has elapsed, so overdue", func() {
				So(err, ShouldBeNil)
				So(status.IsOverdue, ShouldBeTrue)
			})
		})

		Convey("When the last full backup is 27 hours old", func() {
			led.backups = []domain.BackupRecord{{
				ID: "f1", Type: domain.BackupTypeFull,
				CreatedAt: now.Add(-27 * time.Hour), StorageKey: "backup-f1.sql.gz.enc",
			}}

			status, err := uc.CheckStatus(domain.BackupTypeFull, now)

			Convey("It is past interval plus tolerance, so overdue", func() {
				So(err, ShouldBeNil)
				So(status.IsOverdue, ShouldBeTrue)
			})
		})

		Convey("When no backup of the type exists at all", func() {
			status, err := uc.CheckStatus(domain.BackupTypeIncremental, now)

			Convey("It is overdue with no last backup", func() {
				So(err, ShouldBeNil)
				So(status.IsOverdue, ShouldBeTrue)
				So(status.LastBackup, ShouldBeNil)
			})
		})

		Convey("When the latest backup has verification history", func() {
			led.backups = []domain.BackupRecord{{
				ID: "f1", Type: domain.BackupTypeFull,
				CreatedAt: now.Add(-1 * time.Hour), StorageKey: "backup-f1.sql.gz.enc",
			}}
			led.verifications = []domain.VerificationEntry{
				{BackupID: "f1", VerifiedAt: now.Add(-50 * time.Minute), Status: domain.VerificationFailed},
				{BackupID: "f1", VerifiedAt: now.Add(-20 * time.Minute), Status: domain.VerificationPassed},
			}

			status, err := uc.CheckStatus(domain.BackupTypeFull, now)

			Convey("The newest verification entry wins", func() {
				So(err, ShouldBeNil)
				So(status.Verification, ShouldEqual, domain.VerifyStateVerified)
			})
		})
	})
}

func TestMonitorGenerateReport(t *testing.T) {
	Convey("Given a Monitor generating a report", t, func() {
		now := time.Now()
		led := &memLedger{}
		sink := &memNotifier{}

		newRecord := func(id string, kind domain.BackupType, age time.Duration, size int64) domain.BackupRecord {
			return domain.BackupRecord{
				ID: id, Type: kind, CreatedAt: now.Add(-age),
				StorageKey: "backup-" + id + ".sql.gz.enc", SizeBytes: size,
				DurationSeconds: 60,
			}
		}

		Convey("When both backup types are fresh and verified", func() {
			led.backups = []domain.BackupRecord{
				newRecord("f1", domain.BackupTypeFull, 2*time.Hour, 1024),
				newRecord("i1", domain.BackupTypeIncremental, 1*time.Hour, 256),
			}
			led.verifications = []domain.VerificationEntry{
				{BackupID: "f1", VerifiedAt: now, Status: domain.VerificationPassed},
				{BackupID: "i1", VerifiedAt: now, Status: domain.VerificationPassed},
			}

			uc := NewMonitor(led, sink, nopLogger{}, monitorConfig(), 4*time.Hour)
			report, err := uc.GenerateReport(context.Background())

			Convey("The report is healthy, persisted, and not pushed to the sink", func() {
				So(err, ShouldBeNil)
				So(report.Status, ShouldEqual, domain.HealthHealthy)
				So(report.Alerts, ShouldBeEmpty)
				So(led.reports, ShouldHaveLength, 1)
				So(sink.statuses(), ShouldBeEmpty)
				So(report.Metrics.TotalStorageBytes, ShouldEqual, 1280)
			})
		})

		Convey("When the full backup is overdue", func() {
			led.backups = []domain.BackupRecord{
				newRecord("f1", domain.BackupTypeFull, 30*time.Hour, 1024),
				newRecord("i1", domain.BackupTypeIncremental, 1*time.Hour, 256),
			}

			uc := NewMonitor(led, sink, nopLogger{}, monitorConfig(), 4*time.Hour)
			report, err := uc.GenerateReport(context.Background())

			Convey("A critical alert is raised and the sink is notified", func() {
				So(err, ShouldBeNil)
				So(report.Status, ShouldEqual, domain.HealthCritical)

				var codes []string
				for _, alert := range report.Alerts {
					codes = append(codes, alert.Code)
				}
				So(codes, ShouldContain, "backup_overdue")
				So(sink.statuses(), ShouldContain, string(domain.HealthCritical))
				So(report.Recommendations, ShouldNotBeEmpty)
			})
		})

		Convey("When a long incremental chain pushes estimated recovery past the RTO", func() {
			led.backups = []domain.BackupRecord{
				newRecord("f1", domain.BackupTypeFull, 20*time.Hour, 1024),
			}
			for i := 0; i < 12; i++ {
				led.backups = append(led.backups,
					newRecord(string(rune('a'+i)), domain.BackupTypeIncremental,
						time.Duration(19-i)*time.Hour, 128))
			}

			uc := NewMonitor(led, sink, nopLogger{}, monitorConfig(), 1*time.Hour)
			report, err := uc.GenerateReport(context.Background())

			Convey("A warning alert names the objective", func() {
				So(err, ShouldBeNil)
				// 30m base + 12×5m = 90m > 60m objective.
				var codes []string
				for _, alert := range report.Alerts {
					codes = append(codes, alert.Code)
				}
				So(codes, ShouldContain, "estimated_recovery_exceeds_rto")
			})
		})

		Convey("When storage use crosses 90% of the quota", func() {
			led.backups = []domain.BackupRecord{
				newRecord("f1", domain.BackupTypeFull, 2*time.Hour, 1000*1024*1024),
			}
			led.verifications = []domain.VerificationEntry{
				{BackupID: "f1", VerifiedAt: now, Status: domain.VerificationPassed},
			}

			uc := NewMonitor(led, sink, nopLogger{}, monitorConfig(), 4*time.Hour)
			report, err := uc.GenerateReport(context.Background())

			Convey("A storage warning is raised", func() {
				So(err, ShouldBeNil)
				var codes []string
				for _, alert := range report.Alerts {
					codes = append(codes, alert.Code)
				}
				So(codes, ShouldContain, "storage_near_quota")
			})
		})
	})
}
