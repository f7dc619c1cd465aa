// Package ledger is the embedded metadata store: append-only JSON-lines files
// consulted by the monitoring and recovery components. Records are never
// rewritten; retention marks deleted backups in a separate pruned log instead
// of mutating the backups log.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fintrack/vaultguard/internal/domain"
)

const (
	backupsFile       = "backups.log"
	verificationsFile = "verifications.log"
	archivesFile      = "archives.log"
	failuresFile      = "failures.log"
	reportsFile       = "monitor.log"
	prunedFile        = "pruned.log"
)

type Logger interface {
	Warnf(template string, args ...interface{})
}

type prunedEntry struct {
	StorageKey string    `json:"storage_key"`
	PrunedAt   time.Time `json:"pruned_at"`
}

// Ledger serializes all appends through one mutex; the files are single-writer
// by construction.
type Ledger struct {
	dir    string
	logger Logger

	mu sync.Mutex
}

func New(dir string, logger Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &Ledger{dir: dir, logger: logger}, nil
}

func (l *Ledger) appendLine(file string, v interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return domain.NewFailure(domain.ErrIO, "ledger append", err)
	}

	f, err := os.OpenFile(filepath.Join(l.dir, file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return domain.NewFailure(domain.ErrIO, "ledger append", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return domain.NewFailure(domain.ErrIO, "ledger append", err)
	}
	return f.Sync()
}

// readAll parses every line of file into T. A line that fails to parse (a
// crash mid-append leaves a torn trailing line) is skipped with a warning
// rather than poisoning the whole ledger.
func readAll[T any](l *Ledger, file string) ([]T, error) {
	f, err := os.Open(filepath.Join(l.dir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.NewFailure(domain.ErrIO, "ledger read", err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			l.logger.Warnf("ledger %s: skipping corrupt line %d: %v", file, lineNo, err)
			continue
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.NewFailure(domain.ErrIO, "ledger read", err)
	}
	return out, nil
}

func (l *Ledger) AppendBackup(rec domain.BackupRecord) error {
	return l.appendLine(backupsFile, rec)
}

// Backups returns the live (unpruned) records, oldest first.
func (l *Ledger) Backups() ([]domain.BackupRecord, error) {
	records, err := readAll[domain.BackupRecord](l, backupsFile)
	if err != nil {
		return nil, err
	}

	pruned, err := l.prunedKeys()
	if err != nil {
		return nil, err
	}

	live := records[:0:0]
	for _, rec := range records {
		if _, gone := pruned[rec.StorageKey]; !gone {
			live = append(live, rec)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	return live, nil
}

// LatestBackup returns the newest live record of the given type, or nil.
func (l *Ledger) LatestBackup(t domain.BackupType) (*domain.BackupRecord, error) {
	records, err := l.Backups()
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type == t {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (l *Ledger) FindBackupByKey(storageKey string) (*domain.BackupRecord, error) {
	records, err := l.Backups()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].StorageKey == storageKey {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (l *Ledger) AppendVerification(e domain.VerificationEntry) error {
	return l.appendLine(verificationsFile, e)
}

func (l *Ledger) Verifications() ([]domain.VerificationEntry, error) {
	return readAll[domain.VerificationEntry](l, verificationsFile)
}

// LatestVerification returns the newest entry for the backup, or nil when the
// backup has never been verified.
func (l *Ledger) LatestVerification(backupID string) (*domain.VerificationEntry, error) {
	entries, err := l.Verifications()
	if err != nil {
		return nil, err
	}
	var latest *domain.VerificationEntry
	for i := range entries {
		if entries[i].BackupID != backupID {
			continue
		}
		if latest == nil || entries[i].VerifiedAt.After(latest.VerifiedAt) {
			latest = &entries[i]
		}
	}
	return latest, nil
}

func (l *Ledger) AppendArchival(rec domain.ArchivalRecord) error {
	return l.appendLine(archivesFile, rec)
}

func (l *Ledger) Archivals() ([]domain.ArchivalRecord, error) {
	return readAll[domain.ArchivalRecord](l, archivesFile)
}

func (l *Ledger) AppendFailure(f domain.RunFailure) error {
	return l.appendLine(failuresFile, f)
}

func (l *Ledger) Failures() ([]domain.RunFailure, error) {
	return readAll[domain.RunFailure](l, failuresFile)
}

func (l *Ledger) AppendReport(r domain.MonitoringReport) error {
	return l.appendLine(reportsFile, r)
}

// MarkPruned records that a backup object was deleted by retention. The
// backups log itself is never rewritten.
func (l *Ledger) MarkPruned(storageKey string) error {
	return l.appendLine(prunedFile, prunedEntry{StorageKey: storageKey, PrunedAt: time.Now()})
}

func (l *Ledger) prunedKeys() (map[string]struct{}, error) {
	entries, err := readAll[prunedEntry](l, prunedFile)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keys[e.StorageKey] = struct{}{}
	}
	return keys, nil
}
