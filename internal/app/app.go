package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fintrack/vaultguard/internal/adapter/compressor"
	"github.com/fintrack/vaultguard/internal/adapter/database"
	"github.com/fintrack/vaultguard/internal/adapter/encryptor"
	"github.com/fintrack/vaultguard/internal/adapter/notifier"
	"github.com/fintrack/vaultguard/internal/adapter/storage"
	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
	"github.com/fintrack/vaultguard/internal/infrastructure/command"
	"github.com/fintrack/vaultguard/internal/infrastructure/logger"
	"github.com/fintrack/vaultguard/internal/infrastructure/scheduler"
	"github.com/fintrack/vaultguard/internal/ledger"
	"github.com/fintrack/vaultguard/internal/usecase"
)

// App wires the adapters and usecases together. One instance serves both the
// one-shot CLI commands and the scheduled daemon mode.
type App struct {
	config    *config.Config
	logger    *logger.Logger
	scheduler *scheduler.Scheduler
	db        *database.Postgres
	ledger    *ledger.Ledger

	store domain.Storage
	local *storage.LocalStorage

	backupUC   *usecase.Backup
	restoreUC  *usecase.Restore
	cleanupUC  *usecase.Cleanup
	verifyUC   *usecase.Verify
	monitorUC  *usecase.Monitor
	archiveUC  *usecase.Archive
	recoveryUC *usecase.Recovery
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s for database %s", cfg.App.Name, cfg.Database.Database)

	local, err := storage.NewLocal(cfg.Backup.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}
	if _, err := storage.NewLocal(cfg.Backup.StagingPath); err != nil {
		return nil, fmt.Errorf("failed to initialize staging directory: %w", err)
	}

	store, err := storage.NewS3(&cfg.Storage.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
	}
	log.Infof("✓ S3 storage enabled (bucket: %s)", cfg.Storage.S3.Bucket)

	var replica domain.Storage
	if cfg.Storage.Replica.Enabled {
		gd, err := storage.NewGDrive(&cfg.Storage.Replica)
		if err != nil {
			log.Errorf("Failed to initialize offsite replica, continuing without: %v", err)
		} else {
			replica = gd
			log.Infof("✓ Offsite replica enabled")
		}
	}

	var sink domain.Notifier = notifier.Nop{}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notifier.NewTelegram(&cfg.Notify.Telegram)
		if err != nil {
			log.Errorf("Failed to initialize notification sink, continuing without: %v", err)
		} else {
			sink = tg
			log.Infof("✓ Notification sink enabled")
		}
	}

	led, err := ledger.New(cfg.Backup.LocalPath+"/ledger", log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	runner := command.NewExecRunner()
	db := database.NewPostgres(&cfg.Database, runner, cfg.Backup.DumpTimeout)
	comp := compressor.NewGzip(cfg.Backup.CompressLevel)
	enc := encryptor.New(cfg.Encryption.Secret, cfg.Encryption.KDFSalt)

	cleanupUC := usecase.NewCleanup(store, local, led, log,
		cfg.Backup.MaxBackups, cfg.Backup.RetentionDays)

	backupUC := usecase.NewBackup(db, store, replica, local, comp, enc, led, sink, log,
		cfg.Backup.StagingPath, cfg.Backup.IncrementalTables, cleanupUC.Execute)

	restoreUC := usecase.NewRestore(db, store, local, comp, enc, led, log, cfg.Backup.StagingPath)

	verifyUC := usecase.NewVerify(store, comp, enc, led, sink, log, cfg.Backup.StagingPath)

	monitorUC := usecase.NewMonitor(led, sink, log, cfg.Monitoring, cfg.Recovery.RTO)

	archiveUC := usecase.NewArchive(db, store, comp, led, sink, log,
		cfg.Backup.StagingPath, cfg.Archival)

	recoveryUC := usecase.NewRecovery(led, db, restoreUC, sink, log, cfg.Recovery)

	return &App{
		config:     cfg,
		logger:     log,
		scheduler:  scheduler.New(log),
		db:         db,
		ledger:     led,
		store:      store,
		local:      local,
		backupUC:   backupUC,
		restoreUC:  restoreUC,
		cleanupUC:  cleanupUC,
		verifyUC:   verifyUC,
		monitorUC:  monitorUC,
		archiveUC:  archiveUC,
		recoveryUC: recoveryUC,
	}, nil
}

// Backup runs a one-shot capture under the same job lock the scheduler uses,
// so a manual run cannot overlap a scheduled one against the same database.
func (a *App) Backup(ctx context.Context, kind domain.BackupType) error {
	name := "backup-full"
	if kind == domain.BackupTypeIncremental {
		name = "backup-incremental"
	}
	return a.scheduler.RunExclusive(ctx, name, func(ctx context.Context) error {
		_, err := a.backupUC.Execute(ctx, kind)
		return err
	})
}

func (a *App) Restore(ctx context.Context, storageKey, targetDatabase string) error {
	return a.restoreUC.Execute(ctx, storageKey, targetDatabase)
}

func (a *App) Cleanup(ctx context.Context) error {
	return a.scheduler.RunExclusive(ctx, "cleanup", a.cleanupUC.Execute)
}

func (a *App) Verify(ctx context.Context, storageKey string) error {
	entry, err := a.verifyUC.Execute(ctx, storageKey)
	if err != nil {
		return err
	}
	if entry.Status == domain.VerificationFailed {
		return fmt.Errorf("verification failed: %s", entry.Details)
	}
	return nil
}

func (a *App) Archive(ctx context.Context) error {
	return a.scheduler.RunExclusive(ctx, "archival", a.archiveUC.Run)
}

func (a *App) Recover(ctx context.Context, req usecase.RecoveryRequest) error {
	result, err := a.recoveryUC.Run(ctx, req)
	if err != nil {
		return err
	}
	if !result.Succeeded {
		return fmt.Errorf("recovery completed but verification reported violations")
	}
	return nil
}

// List prints cloud objects and local staging copies side by side.
func (a *App) List(ctx context.Context) error {
	cloud, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	a.logger.Infof("Cloud objects: %d", len(cloud))
	for _, obj := range cloud {
		fmt.Printf("cloud\t%s\t%d\t%s\n", obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339))
	}

	localObjects, err := a.local.List(ctx)
	if err != nil {
		return err
	}
	a.logger.Infof("Local staging copies: %d", len(localObjects))
	for _, obj := range localObjects {
		fmt.Printf("local\t%s\t%d\t%s\n", obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339))
	}

	archives, err := a.ledger.Archivals()
	if err != nil {
		return err
	}
	a.logger.Infof("Archived exports: %d", len(archives))
	for _, rec := range archives {
		fmt.Printf("archive\t%s\t%d\t%s\n", rec.StorageKey, rec.RecordsArchived, rec.ArchivedAt.Format(time.RFC3339))
	}
	return nil
}

// RunScheduled starts the cron daemon: full and incremental backups,
// monitoring checks, retention cleanup and archival, each on its own cadence
// and each mutually exclusive with itself.
func (a *App) RunScheduled(ctx context.Context) error {
	jobs := []struct {
		name     string
		schedule string
		fn       func(context.Context) error
	}{
		{"backup-full", a.config.Backup.FullSchedule, func(ctx context.Context) error {
			return a.Backup(ctx, domain.BackupTypeFull)
		}},
		{"backup-incremental", a.config.Backup.IncrementalSchedule, func(ctx context.Context) error {
			return a.Backup(ctx, domain.BackupTypeIncremental)
		}},
		{"monitoring", a.config.Monitoring.Schedule, func(ctx context.Context) error {
			_, err := a.monitorUC.GenerateReport(ctx)
			return err
		}},
		{"cleanup", a.config.Backup.CleanupSchedule, a.cleanupUC.Execute},
		{"archival", a.config.Archival.Schedule, a.archiveUC.Run},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		if err := a.scheduler.AddJob(job.name, job.schedule, job.fn); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		a.logger.Infof("✓ Scheduled %s: %s", job.name, job.schedule)
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started")

	<-ctx.Done()
	return nil
}

func (a *App) Report(ctx context.Context) error {
	report, err := a.monitorUC.GenerateReport(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", report.Status)
	for _, alert := range report.Alerts {
		fmt.Printf("[%s] %s\n", alert.Severity, alert.Message)
	}
	for _, rec := range report.Recommendations {
		fmt.Printf("recommendation: %s\n", rec)
	}
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down...")
	a.scheduler.Stop()
	a.db.Close()
	a.logger.Close()
}
