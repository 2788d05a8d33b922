package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/log"
	"github.com/wharf-registry/wharf/pkg/metrics"
)

// S3Config carries the connection parameters for an S3-compatible
// object store.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseTLS          bool
}

// S3Storage implements Backend against an S3-compatible object store.
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage connects to the object store and verifies the bucket is
// reachable.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	s := &S3Storage{client: client, bucket: cfg.Bucket}
	if err := s.Healthcheck(ctx); err != nil {
		return nil, fmt.Errorf("object store bucket %s is not reachable: %w", cfg.Bucket, err)
	}

	logger := log.WithComponent("storage")
	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Msg("Connected to object store")
	return s, nil
}

func (s *S3Storage) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to probe bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *S3Storage) PutCrate(ctx context.Context, name, version string, data []byte) error {
	return s.put(ctx, CrateKey(name, version), data)
}

func (s *S3Storage) GetCrate(ctx context.Context, name, version string) ([]byte, error) {
	return s.get(ctx, CrateKey(name, version))
}

func (s *S3Storage) DeleteCrate(ctx context.Context, name, version string) error {
	return s.delete(ctx, CrateKey(name, version))
}

func (s *S3Storage) PutReadme(ctx context.Context, name, version string, data []byte) error {
	return s.put(ctx, ReadmeKey(name, version), data)
}

func (s *S3Storage) GetReadme(ctx context.Context, name, version string) ([]byte, error) {
	return s.get(ctx, ReadmeKey(name, version))
}

func (s *S3Storage) put(ctx context.Context, key string, data []byte) error {
	defer metrics.NewTimer().ObserveDurationVec(metrics.StorageOpDuration, "put")
	// Enforce the write-once contract. StatObject is cheaper than a
	// conditional put and the race window is closed by the index
	// transaction serializing publishes per version.
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		existing, err := s.get(ctx, key)
		if err != nil {
			metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
			return err
		}
		if sha256.Sum256(existing) == sha256.Sum256(data) {
			metrics.StorageOpsTotal.WithLabelValues("put", "ok").Inc()
			return nil
		}
		metrics.StorageOpsTotal.WithLabelValues("put", "conflict").Inc()
		return api.NewError(api.KindConflict, fmt.Sprintf("object %s already exists with different content", key))
	case isNoSuchKey(err):
	default:
		metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to probe object", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to write object", err)
	}
	metrics.StorageOpsTotal.WithLabelValues("put", "ok").Inc()
	return nil
}

func (s *S3Storage) get(ctx context.Context, key string) ([]byte, error) {
	defer metrics.NewTimer().ObserveDurationVec(metrics.StorageOpDuration, "get")
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		metrics.StorageOpsTotal.WithLabelValues("get", "error").Inc()
		return nil, api.WrapError(api.KindStorageIO, "failed to open object", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	switch {
	case isNoSuchKey(err):
		metrics.StorageOpsTotal.WithLabelValues("get", "not_found").Inc()
		return nil, api.ErrNotFound()
	case err != nil:
		metrics.StorageOpsTotal.WithLabelValues("get", "error").Inc()
		return nil, api.WrapError(api.KindStorageIO, "failed to read object", err)
	}
	metrics.StorageOpsTotal.WithLabelValues("get", "ok").Inc()
	return data, nil
}

func (s *S3Storage) delete(ctx context.Context, key string) error {
	defer metrics.NewTimer().ObserveDurationVec(metrics.StorageOpDuration, "delete")
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	switch {
	case isNoSuchKey(err):
		metrics.StorageOpsTotal.WithLabelValues("delete", "not_found").Inc()
		return nil
	case err != nil:
		metrics.StorageOpsTotal.WithLabelValues("delete", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to delete object", err)
	}
	metrics.StorageOpsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
