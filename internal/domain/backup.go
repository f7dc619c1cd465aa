package domain

import (
	"time"
)

type BackupType string

const (
	BackupTypeFull        BackupType = "full"
	BackupTypeIncremental BackupType = "incremental"
)

// BackupRecord describes one durably stored backup artifact. Records are
// immutable once appended to the ledger; later components reference them by
// ID or StorageKey but never mutate them.
type BackupRecord struct {
	ID              string     `json:"id"`
	Type            BackupType `json:"type"`
	Database        string     `json:"database"`
	CreatedAt       time.Time  `json:"created_at"`
	SizeBytes       int64      `json:"size_bytes"`
	StorageKey      string     `json:"storage_key"`
	Checksum        string     `json:"checksum"`
	EncryptionIV    string     `json:"encryption_iv"`
	AuthTag         string     `json:"auth_tag"`
	DurationSeconds float64    `json:"duration_seconds"`
}

type VerificationStatus string

const (
	VerificationPassed VerificationStatus = "PASSED"
	VerificationFailed VerificationStatus = "FAILED"
)

// VerificationEntry is the result of an independent verification pass over a
// stored backup. Many entries may exist per backup.
type VerificationEntry struct {
	BackupID   string             `json:"backup_id"`
	VerifiedAt time.Time          `json:"verified_at"`
	Status     VerificationStatus `json:"status"`
	Details    string             `json:"details"`
}

// RunFailure is an append-only note of a failed backup run, consumed by the
// monitoring report's rolling failure counts.
type RunFailure struct {
	Timestamp time.Time  `json:"timestamp"`
	Type      BackupType `json:"type"`
	Error     string     `json:"error"`
}
