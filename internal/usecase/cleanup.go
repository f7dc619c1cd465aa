package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/fintrack/vaultguard/internal/domain"
)

type CleanupLedger interface {
	Backups() ([]domain.BackupRecord, error)
	MarkPruned(storageKey string) error
}

// Cleanup applies the retention policy: the newest maxBackups records are
// always kept regardless of age; of the remainder only those older than
// retentionDays are deleted. Young backups beyond the count limit survive
// until they age out, so frequent restores cannot erase recent history.
type Cleanup struct {
	store         domain.Storage
	local         LocalStorage
	ledger        CleanupLedger
	logger        Logger
	maxBackups    int
	retentionDays int
}

func NewCleanup(
	store domain.Storage,
	local LocalStorage,
	ledger CleanupLedger,
	logger Logger,
	maxBackups int,
	retentionDays int,
) *Cleanup {
	return &Cleanup{
		store:         store,
		local:         local,
		ledger:        ledger,
		logger:        logger,
		maxBackups:    maxBackups,
		retentionDays: retentionDays,
	}
}

func (uc *Cleanup) Execute(ctx context.Context) error {
	uc.logger.Infof("Starting retention cleanup: keep %d, retention %d days", uc.maxBackups, uc.retentionDays)

	records, err := uc.ledger.Backups()
	if err != nil {
		return err
	}

	expired := Expired(records, uc.maxBackups, uc.retentionDays, time.Now())

	deleted := 0
	for _, rec := range expired {
		uc.logger.Infof("Deleting expired backup %s (created %s)",
			rec.StorageKey, rec.CreatedAt.Format("2006-01-02"))

		// Destructive deletes are never retried; a failure leaves the object
		// for the next cleanup pass.
		if err := uc.store.Delete(ctx, rec.StorageKey); err != nil {
			uc.logger.Errorf("Failed to delete %s: %v", rec.StorageKey, err)
			continue
		}
		if uc.local != nil {
			if err := uc.local.Delete(ctx, rec.StorageKey); err != nil {
				uc.logger.Warnf("Failed to delete staging copy of %s: %v", rec.StorageKey, err)
			}
		}
		if err := uc.ledger.MarkPruned(rec.StorageKey); err != nil {
			uc.logger.Errorf("Failed to mark %s pruned: %v", rec.StorageKey, err)
			continue
		}
		deleted++
	}

	uc.logger.Infof("Retention cleanup complete: %d backup(s) deleted", deleted)
	return nil
}

// Expired returns the records eligible for deletion under the policy, given
// the full live set.
func Expired(records []domain.BackupRecord, maxBackups, retentionDays int, now time.Time) []domain.BackupRecord {
	newestFirst := make([]domain.BackupRecord, len(records))
	copy(newestFirst, records)
	sort.Slice(newestFirst, func(i, j int) bool {
		return newestFirst[i].CreatedAt.After(newestFirst[j].CreatedAt)
	})

	if len(newestFirst) <= maxBackups {
		return nil
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	var expired []domain.BackupRecord
	for _, rec := range newestFirst[maxBackups:] {
		if rec.CreatedAt.Before(cutoff) {
			expired = append(expired, rec)
		}
	}
	return expired
}
