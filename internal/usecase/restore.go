package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fintrack/vaultguard/internal/domain"
)

type RestoreDatabase interface {
	RestoreSQL(ctx context.Context, database, sqlPath string) error
}

type RestoreLedger interface {
	FindBackupByKey(storageKey string) (*domain.BackupRecord, error)
}

// Restore reverses the backup pipeline for a single artifact: download,
// decrypt (tag verified before anything else trusts the plaintext),
// decompress, replay.
type Restore struct {
	db          RestoreDatabase
	store       domain.Storage
	local       LocalStorage
	compressor  Compressor
	encryptor   Encryptor
	ledger      RestoreLedger
	logger      Logger
	stagingPath string
}

func NewRestore(
	db RestoreDatabase,
	store domain.Storage,
	local LocalStorage,
	compressor Compressor,
	encryptor Encryptor,
	ledger RestoreLedger,
	logger Logger,
	stagingPath string,
) *Restore {
	return &Restore{
		db:          db,
		store:       store,
		local:       local,
		compressor:  compressor,
		encryptor:   encryptor,
		ledger:      ledger,
		logger:      logger,
		stagingPath: stagingPath,
	}
}

func (uc *Restore) Execute(ctx context.Context, storageKey, targetDatabase string) error {
	start := time.Now()
	uc.logger.Infof("Restoring %s into %s", storageKey, targetDatabase)

	sqlPath, cleanup, err := uc.Fetch(ctx, storageKey)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return err
	}

	if err := uc.db.RestoreSQL(ctx, targetDatabase, sqlPath); err != nil {
		return err
	}

	uc.logger.Infof("Restore of %s completed in %s", storageKey, time.Since(start).Round(time.Second))
	return nil
}

// Fetch materializes the plain-SQL file for a stored artifact in the staging
// directory and returns its path plus a cleanup func for every intermediate.
// The staging copy is preferred over the network when its checksum still
// matches the ledger record.
func (uc *Restore) Fetch(ctx context.Context, storageKey string) (string, func(), error) {
	encPath := filepath.Join(uc.stagingPath, filepath.Base(storageKey))
	gzPath := strings.TrimSuffix(encPath, ".enc")
	sqlPath := strings.TrimSuffix(gzPath, ".gz")

	remover := &stagingRemover{logger: uc.logger}
	remover.add(encPath, gzPath, sqlPath)

	record, err := uc.ledger.FindBackupByKey(storageKey)
	if err != nil {
		return "", remover.run, err
	}
	if record == nil {
		uc.logger.Warnf("No ledger record for %s; integrity cannot be checked", storageKey)
	}

	fetched := false
	if uc.local != nil && uc.local.Has(storageKey) {
		// Checksum the staging copy in place; a stale copy is not worth copying.
		if record != nil && !checksumMatches(uc.local.GetPath(storageKey), record.Checksum) {
			uc.logger.Warnf("Staging copy of %s fails checksum; refetching from object store", storageKey)
		} else if err := uc.local.Download(ctx, storageKey, encPath); err == nil {
			fetched = true
		}
	}
	if !fetched {
		if err := uc.store.Download(ctx, storageKey, encPath); err != nil {
			return "", remover.run, err
		}
	}

	if record != nil && !checksumMatches(encPath, record.Checksum) {
		return "", remover.run, domain.Failuref(domain.ErrIntegrity, "restore",
			"artifact %s does not match recorded checksum %s", storageKey, record.Checksum)
	}

	// A failed authentication tag aborts here; unauthenticated bytes never
	// reach the decompressor.
	if err := uc.encryptor.DecryptFile(encPath, gzPath); err != nil {
		return "", remover.run, err
	}

	if err := uc.compressor.Decompress(gzPath, sqlPath); err != nil {
		return "", remover.run, domain.NewFailure(domain.ErrIO, "decompress", err)
	}

	return sqlPath, remover.run, nil
}

func checksumMatches(path, expected string) bool {
	sum, err := checksumFile(path)
	return err == nil && sum == expected
}

type stagingRemover struct {
	logger Logger
	paths  []string
}

func (r *stagingRemover) add(paths ...string) {
	r.paths = append(r.paths, paths...)
}

func (r *stagingRemover) run() {
	for _, p := range r.paths {
		if err := removeIfPresent(p); err != nil {
			r.logger.Warnf("Failed to remove %s: %v", p, err)
		}
	}
}

func removeIfPresent(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
