package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	appconfig "github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

const maxTransferRetries = 3

// S3Storage is the primary durable store for backup and archive artifacts.
// Uploads and downloads are idempotent, so transient failures are retried with
// bounded exponential backoff; deletes are destructive and never retried.
type S3Storage struct {
	client   *s3.Client
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewS3(cfg *appconfig.S3Config) (*S3Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3Storage{
		client:   client,
		uploader: s3manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

func (s *S3Storage) key(remoteKey string) string {
	if s.prefix == "" {
		return remoteKey
	}
	return path.Join(s.prefix, remoteKey)
}

func (s *S3Storage) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTransferRetries), ctx)
	if err := backoff.Retry(fn, policy); err != nil {
		return domain.NewFailure(domain.ErrNetwork, op, err)
	}
	return nil
}

func (s *S3Storage) Upload(ctx context.Context, localPath string, remoteKey string, opts domain.UploadOptions) error {
	key := s.key(remoteKey)

	return s.retry(ctx, "s3 upload "+key, func() error {
		file, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to open file: %w", err))
		}
		defer file.Close()

		input := &s3.PutObjectInput{
			Bucket:               aws.String(s.bucket),
			Key:                  aws.String(key),
			Body:                 file,
			ServerSideEncryption: types.ServerSideEncryptionAes256,
		}
		if opts.StorageClass != "" {
			input.StorageClass = types.StorageClass(opts.StorageClass)
		}
		if len(opts.Metadata) > 0 {
			input.Metadata = opts.Metadata
		}

		_, err = s.uploader.Upload(ctx, input)
		return err
	})
}

func (s *S3Storage) Download(ctx context.Context, remoteKey string, localPath string) error {
	key := s.key(remoteKey)

	return s.retry(ctx, "s3 download "+key, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		file, err := os.Create(localPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create file: %w", err))
		}
		defer file.Close()

		if _, err := io.Copy(file, resp.Body); err != nil {
			return fmt.Errorf("failed to write object body: %w", err)
		}
		return nil
	})
}

func (s *S3Storage) List(ctx context.Context) ([]domain.ObjectInfo, error) {
	var objects []domain.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, domain.NewFailure(domain.ErrNetwork, "s3 list", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			name = strings.TrimPrefix(name, "/")
			if name == "" {
				continue
			}
			objects = append(objects, domain.ObjectInfo{
				Key:          name,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

func (s *S3Storage) Delete(ctx context.Context, remoteKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(remoteKey)),
	})
	if err != nil {
		return domain.NewFailure(domain.ErrNetwork, "s3 delete "+remoteKey, err)
	}
	return nil
}
