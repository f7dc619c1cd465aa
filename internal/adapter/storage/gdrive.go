package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	appconfig "github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

// GDriveStorage mirrors backup artifacts to a Google Drive folder as an
// offsite replica. Replication is best-effort; the primary store is S3.
type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(cfg *appconfig.ReplicaConfig) (*GDriveStorage, error) {
	service, err := drive.NewService(context.Background(),
		option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, remoteKey string, opts domain.UploadOptions) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    remoteKey,
		Parents: []string{g.folderID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return domain.NewFailure(domain.ErrNetwork, "gdrive upload "+remoteKey, err)
	}

	return nil
}

func (g *GDriveStorage) Download(ctx context.Context, remoteKey string, localPath string) error {
	return fmt.Errorf("gdrive replica is write-only; restore from the primary store")
}

func (g *GDriveStorage) List(ctx context.Context) ([]domain.ObjectInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", g.folderID)

	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id, name, size, createdTime)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, domain.NewFailure(domain.ErrNetwork, "gdrive list", err)
	}

	var objects []domain.ObjectInfo
	for _, file := range fileList.Files {
		created, _ := time.Parse(time.RFC3339, file.CreatedTime)
		objects = append(objects, domain.ObjectInfo{
			Key:          file.Name,
			Size:         file.Size,
			LastModified: created,
		})
	}

	return objects, nil
}

func (g *GDriveStorage) Delete(ctx context.Context, remoteKey string) error {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", g.folderID, remoteKey)

	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return domain.NewFailure(domain.ErrNetwork, "gdrive delete "+remoteKey, err)
	}

	if len(fileList.Files) == 0 {
		return fmt.Errorf("file not found: %s", remoteKey)
	}

	if err := g.service.Files.Delete(fileList.Files[0].Id).Context(ctx).Do(); err != nil {
		return domain.NewFailure(domain.ErrNetwork, "gdrive delete "+remoteKey, err)
	}
	return nil
}
