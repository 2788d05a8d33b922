package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/metrics"
)

// FSStorage implements Backend on a local directory. It is selected by the
// store_path configuration option and is the storage of choice for
// single-node deployments and tests.
type FSStorage struct {
	root string
}

// NewFSStorage creates the root directory if needed and returns the backend.
func NewFSStorage(root string) (*FSStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &FSStorage{root: root}, nil
}

func (s *FSStorage) Healthcheck(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

func (s *FSStorage) PutCrate(ctx context.Context, name, version string, data []byte) error {
	return s.put(ctx, CrateKey(name, version), data)
}

func (s *FSStorage) GetCrate(ctx context.Context, name, version string) ([]byte, error) {
	return s.get(ctx, CrateKey(name, version))
}

func (s *FSStorage) DeleteCrate(ctx context.Context, name, version string) error {
	return s.delete(ctx, CrateKey(name, version))
}

func (s *FSStorage) PutReadme(ctx context.Context, name, version string, data []byte) error {
	return s.put(ctx, ReadmeKey(name, version), data)
}

func (s *FSStorage) GetReadme(ctx context.Context, name, version string) ([]byte, error) {
	return s.get(ctx, ReadmeKey(name, version))
}

func (s *FSStorage) put(ctx context.Context, key string, data []byte) error {
	defer metrics.NewTimer().ObserveDurationVec(metrics.StorageOpDuration, "put")
	path := filepath.Join(s.root, key)

	// Write-once discipline: an identical object already in place is an
	// idempotent retry, different bytes are a conflict.
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			metrics.StorageOpsTotal.WithLabelValues("put", "ok").Inc()
			return nil
		}
		metrics.StorageOpsTotal.WithLabelValues("put", "conflict").Inc()
		return api.NewError(api.KindConflict, fmt.Sprintf("object %s already exists with different content", key))
	case errors.Is(err, fs.ErrNotExist):
	default:
		metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to probe object", err)
	}

	// Atomic write: temp file in the same directory, then rename.
	tmp, err := os.CreateTemp(s.root, "."+key+".tmp-*")
	if err != nil {
		metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to create temp object", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to write object", err)
	}
	if err := tmp.Close(); err != nil {
		metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to flush object", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		metrics.StorageOpsTotal.WithLabelValues("put", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to finalize object", err)
	}
	metrics.StorageOpsTotal.WithLabelValues("put", "ok").Inc()
	return nil
}

func (s *FSStorage) get(ctx context.Context, key string) ([]byte, error) {
	defer metrics.NewTimer().ObserveDurationVec(metrics.StorageOpDuration, "get")
	data, err := os.ReadFile(filepath.Join(s.root, key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		metrics.StorageOpsTotal.WithLabelValues("get", "not_found").Inc()
		return nil, api.ErrNotFound()
	case err != nil:
		metrics.StorageOpsTotal.WithLabelValues("get", "error").Inc()
		return nil, api.WrapError(api.KindStorageIO, "failed to read object", err)
	}
	metrics.StorageOpsTotal.WithLabelValues("get", "ok").Inc()
	return data, nil
}

func (s *FSStorage) delete(ctx context.Context, key string) error {
	defer metrics.NewTimer().ObserveDurationVec(metrics.StorageOpDuration, "delete")
	err := os.Remove(filepath.Join(s.root, key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// The put never landed; nothing to compensate.
		metrics.StorageOpsTotal.WithLabelValues("delete", "not_found").Inc()
		return nil
	case err != nil:
		metrics.StorageOpsTotal.WithLabelValues("delete", "error").Inc()
		return api.WrapError(api.KindStorageIO, "failed to delete object", err)
	}
	metrics.StorageOpsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}
