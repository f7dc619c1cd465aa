package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type Compressor interface {
	Compress(sourcePath, destPath string) error
	Decompress(sourcePath, destPath string) error
}

type Encryptor interface {
	EncryptFile(sourcePath, destPath string) (nonce, tag []byte, err error)
	DecryptFile(sourcePath, destPath string) error
}

// LocalStorage is the staging copy of artifacts kept next to the ledger.
type LocalStorage interface {
	domain.Storage
	GetPath(filename string) string
	Has(filename string) bool
}

type BackupDatabase interface {
	Ping(ctx context.Context) error
	Dump(ctx context.Context, outputPath string) error
	DumpChangesSince(ctx context.Context, tables []config.IncrementalTable, since time.Time, outputPath string) (int64, error)
	Name() string
}

type BackupLedger interface {
	AppendBackup(rec domain.BackupRecord) error
	AppendFailure(f domain.RunFailure) error
	Backups() ([]domain.BackupRecord, error)
}

// Backup runs the capture pipeline: dump, compress, encrypt, upload, then
// retention cleanup. Strictly sequential; every stage consumes the previous
// stage's file and removes it once the next artifact exists.
type Backup struct {
	db          BackupDatabase
	store       domain.Storage
	replica     domain.Storage
	local       LocalStorage
	compressor  Compressor
	encryptor   Encryptor
	ledger      BackupLedger
	notifier    domain.Notifier
	logger      Logger
	stagingPath string
	incremental []config.IncrementalTable
	cleanup     func(ctx context.Context) error
}

func NewBackup(
	db BackupDatabase,
	store domain.Storage,
	replica domain.Storage,
	local LocalStorage,
	compressor Compressor,
	encryptor Encryptor,
	ledger BackupLedger,
	notifier domain.Notifier,
	logger Logger,
	stagingPath string,
	incremental []config.IncrementalTable,
	cleanup func(ctx context.Context) error,
) *Backup {
	return &Backup{
		db:          db,
		store:       store,
		replica:     replica,
		local:       local,
		compressor:  compressor,
		encryptor:   encryptor,
		ledger:      ledger,
		notifier:    notifier,
		logger:      logger,
		stagingPath: stagingPath,
		incremental: incremental,
		cleanup:     cleanup,
	}
}

// Execute performs one backup run of the given kind and records the outcome
// in the ledger and the notification sink.
func (uc *Backup) Execute(ctx context.Context, kind domain.BackupType) (*domain.BackupRecord, error) {
	record, err := uc.run(ctx, kind)
	if err != nil {
		if ferr := uc.ledger.AppendFailure(domain.RunFailure{
			Timestamp: time.Now(),
			Type:      kind,
			Error:     err.Error(),
		}); ferr != nil {
			uc.logger.Errorf("[%s] Failed to record run failure: %v", uc.db.Name(), ferr)
		}
		uc.notify(ctx, "FAILED", fmt.Sprintf("%s backup of %s failed: %v", kind, uc.db.Name(), err))
		return nil, err
	}

	uc.notify(ctx, "SUCCESS", fmt.Sprintf("%s backup of %s stored as %s (%.2f MB)",
		kind, uc.db.Name(), record.StorageKey, float64(record.SizeBytes)/(1024*1024)))
	return record, nil
}

func (uc *Backup) run(ctx context.Context, kind domain.BackupType) (*domain.BackupRecord, error) {
	start := time.Now()
	dbName := uc.db.Name()
	uc.logger.Infof("[%s] Starting %s backup...", dbName, kind)

	if err := uc.db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}

	baseName := fmt.Sprintf("backup-%s-%s.sql", dbName, start.Format("20060102-150405"))
	dumpPath := filepath.Join(uc.stagingPath, baseName)
	gzPath := dumpPath + ".gz"
	encPath := gzPath + ".enc"
	storageKey := baseName + ".gz.enc"

	// On any failure every intermediate for this run is removed so no record
	// can ever point at a partial artifact.
	intermediates := []string{dumpPath, gzPath, encPath}
	succeeded := false
	defer func() {
		if !succeeded {
			uc.removeFiles(intermediates)
		}
	}()

	if err := uc.dump(ctx, kind, dumpPath); err != nil {
		return nil, err
	}

	dumpInfo, err := os.Stat(dumpPath)
	if err != nil {
		return nil, domain.NewFailure(domain.ErrIO, "stat dump", err)
	}
	uc.logger.Infof("[%s] Dump complete, size: %.2f MB", dbName, float64(dumpInfo.Size())/(1024*1024))

	if err := uc.compressor.Compress(dumpPath, gzPath); err != nil {
		return nil, domain.NewFailure(domain.ErrIO, "compress", err)
	}
	uc.removeFiles([]string{dumpPath})

	nonce, tag, err := uc.encryptor.EncryptFile(gzPath, encPath)
	if err != nil {
		return nil, err
	}
	uc.removeFiles([]string{gzPath})

	checksum, err := checksumFile(encPath)
	if err != nil {
		return nil, domain.NewFailure(domain.ErrIO, "checksum", err)
	}

	encInfo, err := os.Stat(encPath)
	if err != nil {
		return nil, domain.NewFailure(domain.ErrIO, "stat artifact", err)
	}

	uc.logger.Infof("[%s] Uploading %s...", dbName, storageKey)
	err = uc.store.Upload(ctx, encPath, storageKey, domain.UploadOptions{
		Metadata: map[string]string{
			"database":    dbName,
			"backup-type": string(kind),
			"created-at":  start.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	if err := uc.local.Upload(ctx, encPath, storageKey, domain.UploadOptions{}); err != nil {
		uc.logger.Warnf("[%s] Failed to keep staging copy: %v", dbName, err)
	}

	if uc.replica != nil {
		if err := uc.replica.Upload(ctx, encPath, storageKey, domain.UploadOptions{}); err != nil {
			uc.logger.Errorf("[%s] Offsite replica upload failed (primary store unaffected): %v", dbName, err)
		}
	}

	record := domain.BackupRecord{
		ID:              uuid.NewString(),
		Type:            kind,
		Database:        dbName,
		CreatedAt:       start,
		SizeBytes:       encInfo.Size(),
		StorageKey:      storageKey,
		Checksum:        checksum,
		EncryptionIV:    base64.StdEncoding.EncodeToString(nonce),
		AuthTag:         base64.StdEncoding.EncodeToString(tag),
		DurationSeconds: time.Since(start).Seconds(),
	}
	if err := uc.ledger.AppendBackup(record); err != nil {
		// The object is durable but unrecorded; delete it rather than leave
		// an artifact the ledger cannot account for.
		if derr := uc.store.Delete(ctx, storageKey); derr != nil {
			uc.logger.Errorf("[%s] Failed to remove unrecorded artifact %s: %v", dbName, storageKey, derr)
		}
		return nil, err
	}

	succeeded = true
	uc.removeFiles([]string{encPath})

	uc.logger.Infof("[%s] Backup completed in %s: %s",
		dbName, time.Since(start).Round(time.Second), storageKey)

	if uc.cleanup != nil {
		if err := uc.cleanup(ctx); err != nil {
			uc.logger.Errorf("[%s] Retention cleanup failed: %v", dbName, err)
		}
	}

	return &record, nil
}

func (uc *Backup) dump(ctx context.Context, kind domain.BackupType, dumpPath string) error {
	if kind == domain.BackupTypeFull {
		return uc.db.Dump(ctx, dumpPath)
	}

	records, err := uc.ledger.Backups()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		uc.logger.Warnf("[%s] No reference backup for incremental; capturing a full backup instead", uc.db.Name())
		return uc.db.Dump(ctx, dumpPath)
	}

	since := records[len(records)-1].CreatedAt
	rows, err := uc.db.DumpChangesSince(ctx, uc.incremental, since, dumpPath)
	if err != nil {
		return err
	}
	uc.logger.Infof("[%s] Captured %d changed row(s) since %s",
		uc.db.Name(), rows, since.Format(time.RFC3339))
	return nil
}

func (uc *Backup) removeFiles(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			uc.logger.Warnf("Failed to remove %s: %v", p, err)
		}
	}
}

func (uc *Backup) notify(ctx context.Context, status, details string) {
	err := uc.notifier.Notify(ctx, domain.Notification{
		Status:    status,
		Details:   details,
		Timestamp: time.Now(),
	})
	if err != nil {
		uc.logger.Errorf("Failed to notify sink: %v", err)
	}
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
