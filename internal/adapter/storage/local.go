package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fintrack/vaultguard/internal/domain"
)

// LocalStorage keeps a staging copy of backup artifacts on disk so restores
// and verification can skip the network when the object is still present.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func copyFile(sourcePath, destPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	return nil
}

func (l *LocalStorage) Upload(ctx context.Context, localPath string, remoteKey string, opts domain.UploadOptions) error {
	return copyFile(localPath, filepath.Join(l.basePath, remoteKey))
}

func (l *LocalStorage) Download(ctx context.Context, remoteKey string, localPath string) error {
	sourcePath := filepath.Join(l.basePath, remoteKey)
	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("not in local storage: %w", err)
	}
	return copyFile(sourcePath, localPath)
}

func (l *LocalStorage) List(ctx context.Context) ([]domain.ObjectInfo, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var objects []domain.ObjectInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		objects = append(objects, domain.ObjectInfo{
			Key:          entry.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}

	return objects, nil
}

func (l *LocalStorage) Delete(ctx context.Context, remoteKey string) error {
	if err := os.Remove(filepath.Join(l.basePath, remoteKey)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetPath returns where the staging copy of filename lives, whether or not it
// exists yet.
func (l *LocalStorage) GetPath(filename string) string {
	return filepath.Join(l.basePath, filename)
}

// Has reports whether a staging copy of the key exists.
func (l *LocalStorage) Has(filename string) bool {
	_, err := os.Stat(filepath.Join(l.basePath, filename))
	return err == nil
}
