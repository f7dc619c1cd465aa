package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/fintrack/vaultguard/internal/app"
	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
	"github.com/fintrack/vaultguard/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		backup     = flag.String("backup", "", "perform a backup: full or incremental")
		restore    = flag.String("restore", "", "restore the named backup key")
		target     = flag.String("target", "", "target database for restore/recovery")
		list       = flag.Bool("list", false, "list available backups (local and cloud)")
		schedule   = flag.Bool("schedule", false, "run in scheduled mode until signalled")
		cleanup    = flag.Bool("cleanup", false, "run retention cleanup")
		archive    = flag.Bool("archive", false, "run the archival engine")
		recover    = flag.Bool("recover", false, "run disaster recovery")
		verify     = flag.Bool("verify", false, "verify restored data (with -recover) or the latest backup")
		backupKey  = flag.String("backup-key", "", "recovery point: explicit backup key")
		timeStr    = flag.String("time", "", "recovery point: ISO8601 target time")
		report     = flag.Bool("report", false, "generate a monitoring report")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *backup != "":
		kind := domain.BackupType(*backup)
		if kind != domain.BackupTypeFull && kind != domain.BackupTypeIncremental {
			return fmt.Errorf("unknown backup type %q", *backup)
		}
		return application.Backup(ctx, kind)

	case *restore != "":
		if *target == "" {
			return fmt.Errorf("-restore requires -target")
		}
		return application.Restore(ctx, *restore, *target)

	case *list:
		return application.List(ctx)

	case *cleanup:
		return application.Cleanup(ctx)

	case *archive:
		return application.Archive(ctx)

	case *recover:
		req := usecase.RecoveryRequest{
			BackupKey:      *backupKey,
			TargetDatabase: *target,
			Verify:         *verify,
		}
		if *timeStr != "" {
			t, err := time.Parse(time.RFC3339, *timeStr)
			if err != nil {
				return fmt.Errorf("invalid -time (want ISO8601): %w", err)
			}
			req.TargetTime = &t
		}
		return application.Recover(ctx, req)

	case *verify:
		return application.Verify(ctx, *backupKey)

	case *report:
		return application.Report(ctx)

	case *schedule:
		return application.RunScheduled(ctx)

	default:
		flag.Usage()
		return fmt.Errorf("no command given")
	}
}
