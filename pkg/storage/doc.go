/*
Package storage provides object storage for crate tarballs and readme
documents.

Two backends implement the Backend interface: FSStorage keeps objects as
flat files under a local directory, and S3Storage talks to any
S3-compatible object store through the MinIO client. Object keys are
fully derived from the (name, version) pair, so neither backend is ever
listed or scanned.

# Key Scheme

	hello-0.1.0.crate    tarball for hello 0.1.0
	hello-0.1.0.readme   rendered readme for hello 0.1.0

Names are case-folded in keys so the keyspace matches the registry's
case-insensitive package identity.

# Write Semantics

The publish pipeline relies on two properties of PutCrate:

  - Write-once: a put over an existing object with different bytes
    returns KindConflict. Published tarballs are immutable.
  - Idempotent retry: a put with bytes identical to the stored object
    succeeds without rewriting, so a retried publish is safe.

DeleteCrate exists only as the compensating action for a publish whose
index commit failed, and therefore treats an absent key as success.

# Usage

	store, err := storage.NewFSStorage("/var/lib/wharf/crates")
	if err != nil {
		log.Fatal("failed to open crate storage: " + err.Error())
	}

	err = store.PutCrate(ctx, "hello", "0.1.0", tarball)
	data, err := store.GetCrate(ctx, "hello", "0.1.0")

# Integration Points

This package integrates with:

  - pkg/server: the publish orchestrator puts tarballs during the index
    transaction and issues compensating deletes on commit failure; the
    download handler fetches tarballs after confirming index existence
  - pkg/metrics: every operation increments StorageOpsTotal
  - pkg/config: backend selection (store vs store_path)
*/
package storage
