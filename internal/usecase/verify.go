package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fintrack/vaultguard/internal/domain"
)

type VerifyLedger interface {
	Backups() ([]domain.BackupRecord, error)
	FindBackupByKey(storageKey string) (*domain.BackupRecord, error)
	AppendVerification(e domain.VerificationEntry) error
}

// Verify is the independent verification pass: it re-downloads a stored
// artifact and proves the checksum, authentication tag, and compression
// stream are all still intact. A checksum mismatch is an integrity failure of
// the stored object, never a warning.
type Verify struct {
	store       domain.Storage
	compressor  Compressor
	encryptor   Encryptor
	ledger      VerifyLedger
	notifier    domain.Notifier
	logger      Logger
	stagingPath string
}

func NewVerify(
	store domain.Storage,
	compressor Compressor,
	encryptor Encryptor,
	ledger VerifyLedger,
	notifier domain.Notifier,
	logger Logger,
	stagingPath string,
) *Verify {
	return &Verify{
		store:       store,
		compressor:  compressor,
		encryptor:   encryptor,
		ledger:      ledger,
		notifier:    notifier,
		logger:      logger,
		stagingPath: stagingPath,
	}
}

// Execute verifies the named backup, or the most recent one when storageKey
// is empty, and appends the outcome to the verification ledger.
func (uc *Verify) Execute(ctx context.Context, storageKey string) (*domain.VerificationEntry, error) {
	record, err := uc.pickRecord(storageKey)
	if err != nil {
		return nil, err
	}

	uc.logger.Infof("Verifying backup %s (%s)", record.ID, record.StorageKey)

	entry := domain.VerificationEntry{
		BackupID:   record.ID,
		VerifiedAt: time.Now(),
		Status:     domain.VerificationPassed,
		Details:    "checksum, authentication tag and compression stream verified",
	}

	if err := uc.check(ctx, record); err != nil {
		entry.Status = domain.VerificationFailed
		entry.Details = err.Error()
		uc.logger.Errorf("Verification of %s FAILED: %v", record.StorageKey, err)

		if nerr := uc.notifier.Notify(ctx, domain.Notification{
			Status:    "VERIFICATION_FAILED",
			Details:   fmt.Sprintf("backup %s: %v", record.StorageKey, err),
			Timestamp: time.Now(),
		}); nerr != nil {
			uc.logger.Errorf("Failed to notify sink: %v", nerr)
		}
	}

	if err := uc.ledger.AppendVerification(entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (uc *Verify) pickRecord(storageKey string) (*domain.BackupRecord, error) {
	if storageKey != "" {
		record, err := uc.ledger.FindBackupByKey(storageKey)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, fmt.Errorf("no backup record for key %s", storageKey)
		}
		return record, nil
	}

	records, err := uc.ledger.Backups()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no backups to verify")
	}
	return &records[len(records)-1], nil
}

func (uc *Verify) check(ctx context.Context, record *domain.BackupRecord) error {
	encPath := filepath.Join(uc.stagingPath, "verify-"+filepath.Base(record.StorageKey))
	gzPath := encPath + ".gz"
	rawPath := encPath + ".raw"
	defer func() {
		for _, p := range []string{encPath, gzPath, rawPath} {
			if err := removeIfPresent(p); err != nil {
				uc.logger.Warnf("%v", err)
			}
		}
	}()

	if err := uc.store.Download(ctx, record.StorageKey, encPath); err != nil {
		return err
	}

	sum, err := checksumFile(encPath)
	if err != nil {
		return domain.NewFailure(domain.ErrIO, "verify", err)
	}
	if sum != record.Checksum {
		return domain.Failuref(domain.ErrIntegrity, "verify",
			"stored object checksum %s does not match recorded %s", sum, record.Checksum)
	}

	if err := uc.encryptor.DecryptFile(encPath, gzPath); err != nil {
		return err
	}
	if err := uc.compressor.Decompress(gzPath, rawPath); err != nil {
		return domain.NewFailure(domain.ErrIntegrity, "verify", err)
	}
	return nil
}
