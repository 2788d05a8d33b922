package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order at startup. Every statement is
// idempotent, so concurrent instances racing on startup converge on the
// same schema.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS packages (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL,
		registry      TEXT,
		description   TEXT,
		documentation TEXT,
		homepage      TEXT,
		repository    TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// Unique on (name, registry) with NULL registry collapsing to a single
	// local row per name.
	`CREATE UNIQUE INDEX IF NOT EXISTS packages_name_registry_idx
		ON packages (name, (COALESCE(registry, '')))`,
	`CREATE INDEX IF NOT EXISTS packages_lower_name_idx
		ON packages (lower(name))`,
	`CREATE TABLE IF NOT EXISTS versions (
		id         BIGSERIAL PRIMARY KEY,
		package_id BIGINT NOT NULL REFERENCES packages (id),
		version    TEXT NOT NULL,
		checksum   TEXT NOT NULL,
		yanked     BOOLEAN NOT NULL DEFAULT FALSE,
		links      TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT versions_package_id_version_key UNIQUE (package_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS features (
		id         BIGSERIAL PRIMARY KEY,
		version_id BIGINT NOT NULL REFERENCES versions (id),
		name       TEXT NOT NULL,
		enables    TEXT[] NOT NULL DEFAULT '{}',
		CONSTRAINT features_version_id_name_key UNIQUE (version_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS dependencies (
		id               BIGSERIAL PRIMARY KEY,
		version_id       BIGINT NOT NULL REFERENCES versions (id),
		dependency_id    BIGINT NOT NULL REFERENCES packages (id),
		req              TEXT NOT NULL,
		features         TEXT[] NOT NULL DEFAULT '{}',
		optional         BOOLEAN NOT NULL DEFAULT FALSE,
		default_features BOOLEAN NOT NULL DEFAULT TRUE,
		target           TEXT,
		kind             TEXT NOT NULL DEFAULT 'normal'
			CHECK (kind IN ('normal', 'dev', 'build')),
		renamed          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS dependencies_version_id_idx
		ON dependencies (version_id)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS keywords (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS package_categories (
		package_id  BIGINT NOT NULL REFERENCES packages (id),
		category_id BIGINT NOT NULL REFERENCES categories (id),
		PRIMARY KEY (package_id, category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS package_keywords (
		package_id BIGINT NOT NULL REFERENCES packages (id),
		keyword_id BIGINT NOT NULL REFERENCES keywords (id),
		PRIMARY KEY (package_id, keyword_id)
	)`,
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("index migration %d failed: %w", i, err)
		}
	}
	return nil
}
