/*
Package index implements the registry's index backend contract: versioned
package metadata, the dependency graph, yank state, search, and the list
surface used to dump a search corpus.

Two providers implement the Backend interface:

  - PostgresIndex: the relational backend (pgx connection pool, schema
    applied idempotently at startup). Selected by the index_db config
    option. Publish runs in a single ReadCommitted transaction.
  - BoltIndex: an embedded bbolt backend with JSON-encoded rows, selected
    by the index_path config option. Suitable for single-node deployments
    and tests.

# The publish transaction

Publish stages the package row (upsert), the version row (duplicate
versions fail with KindVersionExists), feature and dependency rows, and
category/keyword associations, then invokes the caller-supplied endStep
while the transaction is still open. The orchestrator uses endStep to put
the tarball into object storage, which guarantees a storage failure rolls
back the index mutation: a visible version row always has its tarball.

# Identity and ordering

Packages are identified by (name, registry), with a NULL registry meaning
local. External-registry dependencies auto-create placeholder package rows
without versions. Names compare case-insensitively; sparse entries are
returned in publish order, which both providers realize through insertion
order.
*/
package index
