package usecase

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// memStorage is an in-memory object store capturing uploads by key.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	opts    map[string]domain.UploadOptions

	uploadErr   error
	downloadErr error
	deleteErr   error
	deleted     []string
}

func newMemStorage() *memStorage {
	return &memStorage{
		objects: make(map[string][]byte),
		opts:    make(map[string]domain.UploadOptions),
	}
}

func (m *memStorage) Upload(ctx context.Context, localPath, remoteKey string, opts domain.UploadOptions) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[remoteKey] = data
	m.opts[remoteKey] = opts
	return nil
}

func (m *memStorage) Download(ctx context.Context, remoteKey, localPath string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.mu.Lock()
	data, ok := m.objects[remoteKey]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such object: %s", remoteKey)
	}
	return os.WriteFile(localPath, data, 0600)
}

func (m *memStorage) List(ctx context.Context) ([]domain.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ObjectInfo
	for key, data := range m.objects {
		out = append(out, domain.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()})
	}
	return out, nil
}

func (m *memStorage) Delete(ctx context.Context, remoteKey string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, remoteKey)
	m.deleted = append(m.deleted, remoteKey)
	return nil
}

// memLocal adds the staging-copy surface on top of memStorage.
type memLocal struct {
	*memStorage
	dir string
}

func newMemLocal(dir string) *memLocal {
	return &memLocal{memStorage: newMemStorage(), dir: dir}
}

func (m *memLocal) GetPath(filename string) string { return filepath.Join(m.dir, filename) }

// put places a staging copy both in the in-memory index and on disk at GetPath.
func (m *memLocal) put(key string, data []byte) error {
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return os.WriteFile(m.GetPath(key), data, 0600)
}

func (m *memLocal) Has(filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[filename]
	return ok
}

type memLedger struct {
	mu            sync.Mutex
	backups       []domain.BackupRecord
	failures      []domain.RunFailure
	verifications []domain.VerificationEntry
	archivals     []domain.ArchivalRecord
	reports       []domain.MonitoringReport
	pruned        []string

	appendBackupErr error
}

func (m *memLedger) AppendBackup(rec domain.BackupRecord) error {
	if m.appendBackupErr != nil {
		return m.appendBackupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups = append(m.backups, rec)
	return nil
}

func (m *memLedger) Backups() ([]domain.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := make([]domain.BackupRecord, 0, len(m.backups))
	for _, rec := range m.backups {
		gone := false
		for _, key := range m.pruned {
			if key == rec.StorageKey {
				gone = true
				break
			}
		}
		if !gone {
			live = append(live, rec)
		}
	}
	return live, nil
}

func (m *memLedger) LatestBackup(t domain.BackupType) (*domain.BackupRecord, error) {
	records, _ := m.Backups()
	var latest *domain.BackupRecord
	for i := range records {
		if records[i].Type != t {
			continue
		}
		if latest == nil || records[i].CreatedAt.After(latest.CreatedAt) {
			latest = &records[i]
		}
	}
	return latest, nil
}

func (m *memLedger) FindBackupByKey(storageKey string) (*domain.BackupRecord, error) {
	records, _ := m.Backups()
	for i := range records {
		if records[i].StorageKey == storageKey {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (m *memLedger) AppendFailure(f domain.RunFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *memLedger) Failures() ([]domain.RunFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RunFailure(nil), m.failures...), nil
}

func (m *memLedger) AppendVerification(e domain.VerificationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, e)
	return nil
}

func (m *memLedger) Verifications() ([]domain.VerificationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.VerificationEntry(nil), m.verifications...), nil
}

func (m *memLedger) LatestVerification(backupID string) (*domain.VerificationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.VerificationEntry
	for i := range m.verifications {
		if m.verifications[i].BackupID != backupID {
			continue
		}
		if latest == nil || m.verifications[i].VerifiedAt.After(latest.VerifiedAt) {
			latest = &m.verifications[i]
		}
	}
	return latest, nil
}

func (m *memLedger) AppendArchival(rec domain.ArchivalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archivals = append(m.archivals, rec)
	return nil
}

func (m *memLedger) AppendReport(r domain.MonitoringReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *memLedger) MarkPruned(storageKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, storageKey)
	return nil
}

type memNotifier struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (m *memNotifier) Notify(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *memNotifier) statuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.notifications))
	for i, n := range m.notifications {
		out[i] = n.Status
	}
	return out
}

// fakeDB satisfies BackupDatabase by writing canned dump content.
type fakeDB struct {
	name        string
	pingErr     error
	dumpErr     error
	dumpContent string
	changedRows int64
	lastSince   time.Time
}

func (f *fakeDB) Name() string { return f.name }

func (f *fakeDB) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeDB) Dump(ctx context.Context, outputPath string) error {
	if f.dumpErr != nil {
		return f.dumpErr
	}
	return os.WriteFile(outputPath, []byte(f.dumpContent), 0600)
}

func (f *fakeDB) DumpChangesSince(ctx context.Context, tables []config.IncrementalTable, since time.Time, outputPath string) (int64, error) {
	if f.dumpErr != nil {
		return 0, f.dumpErr
	}
	f.lastSince = since
	if err := os.WriteFile(outputPath, []byte(f.dumpContent), 0600); err != nil {
		return 0, err
	}
	return f.changedRows, nil
}

// passthroughCompressor copies bytes unchanged so tests can inspect artifacts.
type passthroughCompressor struct {
	compressErr error
}

func (c *passthroughCompressor) Compress(sourcePath, destPath string) error {
	if c.compressErr != nil {
		return c.compressErr
	}
	return copyContents(sourcePath, destPath)
}

func (c *passthroughCompressor) Decompress(sourcePath, destPath string) error {
	return copyContents(sourcePath, destPath)
}

type passthroughEncryptor struct {
	encryptErr error
}

func (e *passthroughEncryptor) EncryptFile(sourcePath, destPath string) (nonce, tag []byte, err error) {
	if e.encryptErr != nil {
		return nil, nil, e.encryptErr
	}
	if err := copyContents(sourcePath, destPath); err != nil {
		return nil, nil, err
	}
	return make([]byte, 12), make([]byte, 16), nil
}

func (e *passthroughEncryptor) DecryptFile(sourcePath, destPath string) error {
	return copyContents(sourcePath, destPath)
}

func copyContents(sourcePath, destPath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}
