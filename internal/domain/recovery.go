package domain

import (
	"fmt"
	"sort"
	"time"
)

// RecoveryPoint is the chain of backups needed to reconstruct the database at
// Timestamp: exactly one full backup followed by zero or more incrementals
// strictly ordered by creation time. Computed on demand, never persisted.
type RecoveryPoint struct {
	Timestamp time.Time      `json:"timestamp"`
	Chain     []BackupRecord `json:"chain"`
}

// BuildChain selects the newest full backup at or before target and every
// incremental strictly after it, up to and including target. Returns an error
// when no full backup precedes the target, since recovery is impossible then.
func BuildChain(records []BackupRecord, target time.Time) (*RecoveryPoint, error) {
	sorted := make([]BackupRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	fullIdx := -1
	for i, rec := range sorted {
		if rec.Type == BackupTypeFull && !rec.CreatedAt.After(target) {
			fullIdx = i
		}
	}
	if fullIdx == -1 {
		return nil, fmt.Errorf("no full backup at or before %s", target.Format(time.RFC3339))
	}

	full := sorted[fullIdx]
	chain := []BackupRecord{full}
	for _, rec := range sorted[fullIdx+1:] {
		if rec.Type != BackupTypeIncremental {
			continue
		}
		if rec.CreatedAt.After(full.CreatedAt) && !rec.CreatedAt.After(target) {
			chain = append(chain, rec)
		}
	}

	return &RecoveryPoint{Timestamp: chain[len(chain)-1].CreatedAt, Chain: chain}, nil
}

// ChainForRecord builds the chain ending at the given record: the record's own
// timestamp becomes the target. The record itself must survive selection, so a
// full backup simply yields a one-element chain.
func ChainForRecord(records []BackupRecord, rec BackupRecord) (*RecoveryPoint, error) {
	if rec.Type == BackupTypeFull {
		return &RecoveryPoint{Timestamp: rec.CreatedAt, Chain: []BackupRecord{rec}}, nil
	}
	return BuildChain(records, rec.CreatedAt)
}

// Validate checks the chain invariant: one full first, incrementals strictly
// ordered by time and strictly after the full backup.
func (rp *RecoveryPoint) Validate() error {
	if len(rp.Chain) == 0 {
		return fmt.Errorf("empty recovery chain")
	}
	if rp.Chain[0].Type != BackupTypeFull {
		return fmt.Errorf("recovery chain must begin with a full backup, got %s", rp.Chain[0].Type)
	}
	prev := rp.Chain[0].CreatedAt
	for _, rec := range rp.Chain[1:] {
		if rec.Type != BackupTypeIncremental {
			return fmt.Errorf("recovery chain contains a second full backup %s", rec.ID)
		}
		if !rec.CreatedAt.After(prev) {
			return fmt.Errorf("incremental %s is not strictly ordered after %s", rec.ID, prev.Format(time.RFC3339))
		}
		prev = rec.CreatedAt
	}
	return nil
}
