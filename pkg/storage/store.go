package storage

import (
	"context"
	"fmt"
	"strings"
)

// Backend defines the interface for content-addressed tarball storage.
//
// Object keys are fully determined from (name, version); callers never
// list. Puts are write-once: a second put with identical bytes is a
// success (idempotent retry), a second put with different bytes is
// KindConflict. Deletes exist solely as compensating actions after a
// failed publish, so an absent key on delete is benign.
type Backend interface {
	// PutCrate stores the tarball for a (name, version) pair.
	PutCrate(ctx context.Context, name, version string, data []byte) error
	// GetCrate returns the tarball bytes, or KindNotFound.
	GetCrate(ctx context.Context, name, version string) ([]byte, error)
	// DeleteCrate removes the tarball. Deleting an absent key is a no-op.
	DeleteCrate(ctx context.Context, name, version string) error

	// PutReadme and GetReadme mirror the crate contract for rendered
	// readme documents.
	PutReadme(ctx context.Context, name, version string, data []byte) error
	GetReadme(ctx context.Context, name, version string) ([]byte, error)

	// Healthcheck reports whether the backend can serve requests.
	Healthcheck(ctx context.Context) error
}

// CrateKey returns the object key for a crate tarball. Names are
// case-folded so the keyspace matches the case-insensitive package
// identity.
func CrateKey(name, version string) string {
	return fmt.Sprintf("%s-%s.crate", strings.ToLower(name), version)
}

// ReadmeKey returns the object key for a version's readme document.
func ReadmeKey(name, version string) string {
	return fmt.Sprintf("%s-%s.readme", strings.ToLower(name), version)
}
