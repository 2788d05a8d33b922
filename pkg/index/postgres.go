package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/metrics"
)

// PostgresIndex implements Backend on a PostgreSQL database via pgx. It is
// the index provider selected by the index_db configuration option.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex connects to the database, applies the schema, and
// returns a ready backend.
func NewPostgresIndex(ctx context.Context, dsn string, maxConns int32) (*PostgresIndex, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index database config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index database pool: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresIndex{pool: pool}, nil
}

func (s *PostgresIndex) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresIndex) Healthcheck(ctx context.Context) error {
	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	return s.pool.Ping(tctx)
}

func (s *PostgresIndex) ConfirmExistence(ctx context.Context, name, version string) (*api.ExistenceCheck, error) {
	const query = `
	SELECT v.yanked, v.checksum
	FROM versions v
	JOIN packages p ON p.id = v.package_id
	WHERE lower(p.name) = lower($1)
	  AND p.registry IS NULL
	  AND v.version = $2;
	`
	metrics.IndexQueriesTotal.WithLabelValues("confirm_existence").Inc()

	var check api.ExistenceCheck
	err := s.pool.QueryRow(ctx, query, name, version).Scan(&check.Yanked, &check.Checksum)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, api.ErrNotFound()
	case err != nil:
		return nil, api.WrapError(api.KindIndexIO, "existence check failed", err)
	}
	return &check, nil
}

func (s *PostgresIndex) GetSparseEntry(ctx context.Context, name string) ([]api.CrateFileEntry, error) {
	const (
		getPackage = `
		SELECT id, name
		FROM packages
		WHERE lower(name) = lower($1) AND registry IS NULL;
		`
		getVersions = `
		SELECT id, version, checksum, yanked, links
		FROM versions
		WHERE package_id = $1
		ORDER BY id;
		`
		getFeatures = `
		SELECT name, enables
		FROM features
		WHERE version_id = $1
		ORDER BY id;
		`
		getDependencies = `
		SELECT p.name, p.registry, d.req, d.features, d.optional,
		       d.default_features, d.target, d.kind, d.renamed
		FROM dependencies d
		JOIN packages p ON p.id = d.dependency_id
		WHERE d.version_id = $1
		ORDER BY d.id;
		`
	)
	metrics.IndexQueriesTotal.WithLabelValues("sparse_entry").Inc()

	var packageID int64
	var storedName string
	err := s.pool.QueryRow(ctx, getPackage, name).Scan(&packageID, &storedName)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, api.ErrNotFound()
	case err != nil:
		return nil, api.WrapError(api.KindIndexIO, "package lookup failed", err)
	}

	type versionRow struct {
		id      int64
		version string
		cksum   string
		yanked  bool
		links   *string
	}
	var versionRows []versionRow
	rows, err := s.pool.Query(ctx, getVersions, packageID)
	if err != nil {
		return nil, api.WrapError(api.KindIndexIO, "version query failed", err)
	}
	for rows.Next() {
		var vr versionRow
		if err := rows.Scan(&vr.id, &vr.version, &vr.cksum, &vr.yanked, &vr.links); err != nil {
			rows.Close()
			return nil, api.WrapError(api.KindIndexIO, "version scan failed", err)
		}
		versionRows = append(versionRows, vr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, api.WrapError(api.KindIndexIO, "version query failed", err)
	}

	entries := make([]api.CrateFileEntry, 0, len(versionRows))
	for _, vr := range versionRows {
		features := map[string][]string{}
		frows, err := s.pool.Query(ctx, getFeatures, vr.id)
		if err != nil {
			return nil, api.WrapError(api.KindIndexIO, "feature query failed", err)
		}
		for frows.Next() {
			var fname string
			var enables []string
			if err := frows.Scan(&fname, &enables); err != nil {
				frows.Close()
				return nil, api.WrapError(api.KindIndexIO, "feature scan failed", err)
			}
			features[fname] = enables
		}
		frows.Close()
		if err := frows.Err(); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "feature query failed", err)
		}

		deps := []api.Dependency{}
		drows, err := s.pool.Query(ctx, getDependencies, vr.id)
		if err != nil {
			return nil, api.WrapError(api.KindIndexIO, "dependency query failed", err)
		}
		for drows.Next() {
			var depName, req, kind string
			var registry, target, renamed *string
			var depFeatures []string
			var optional, defaultFeatures bool
			if err := drows.Scan(&depName, &registry, &req, &depFeatures, &optional, &defaultFeatures, &target, &kind, &renamed); err != nil {
				drows.Close()
				return nil, api.WrapError(api.KindIndexIO, "dependency scan failed", err)
			}
			dep := api.Dependency{
				Name:            depName,
				Req:             req,
				Features:        depFeatures,
				Optional:        optional,
				DefaultFeatures: defaultFeatures,
				Target:          target,
				Kind:            api.DependencyKind(kind),
				Registry:        registry,
			}
			if renamed != nil {
				// The row stores the original package name in packages.name
				// and the as-used name in renamed; the wire format inverts.
				orig := depName
				dep.Name = *renamed
				dep.Package = &orig
			}
			deps = append(deps, dep)
		}
		drows.Close()
		if err := drows.Err(); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "dependency query failed", err)
		}

		entries = append(entries, api.CrateFileEntry{
			Name:     storedName,
			Vers:     vr.version,
			Deps:     deps,
			Cksum:    vr.cksum,
			Features: features,
			Yanked:   vr.yanked,
			Links:    vr.links,
			V:        2,
		})
	}
	return entries, nil
}

func (s *PostgresIndex) Search(ctx context.Context, query string, limit int) (*api.SearchResults, error) {
	const search = `
	SELECT p.name,
	       COALESCE(p.description, ''),
	       array_agg(v.version ORDER BY v.id),
	       array_agg(v.version ORDER BY v.id) FILTER (WHERE NOT v.yanked)
	FROM packages p
	JOIN versions v ON v.package_id = p.id
	WHERE p.registry IS NULL
	  AND position($1 IN p.name) > 0
	GROUP BY p.id;
	`
	metrics.IndexQueriesTotal.WithLabelValues("search").Inc()

	rows, err := s.pool.Query(ctx, search, query)
	if err != nil {
		return nil, api.WrapError(api.KindIndexIO, "search query failed", err)
	}
	defer rows.Close()

	hits := []api.SearchEntry{}
	for rows.Next() {
		var name, description string
		var all, unyanked []string
		if err := rows.Scan(&name, &description, &all, &unyanked); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "search scan failed", err)
		}
		entries := make([]api.CrateFileEntry, 0, len(all))
		yankedSet := map[string]bool{}
		for _, v := range all {
			yankedSet[v] = true
		}
		for _, v := range unyanked {
			yankedSet[v] = false
		}
		for _, v := range all {
			entries = append(entries, api.CrateFileEntry{Vers: v, Yanked: yankedSet[v]})
		}
		hits = append(hits, api.SearchEntry{
			Name:        name,
			MaxVersion:  maxUnyankedVersion(entries),
			Description: description,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, api.WrapError(api.KindIndexIO, "search query failed", err)
	}

	sortSearchEntries(hits, query)
	total := len(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return &api.SearchResults{Crates: hits, Meta: api.SearchMeta{Total: total}}, nil
}

func (s *PostgresIndex) ListAll(ctx context.Context, perPage, page int) ([]api.PackageSummary, error) {
	const (
		listPackages = `
		SELECT p.id, p.name, COALESCE(p.description, ''), p.documentation,
		       p.homepage, p.repository, p.created_at, p.updated_at,
		       array_agg(v.version ORDER BY v.id)
		FROM packages p
		JOIN versions v ON v.package_id = p.id
		WHERE p.registry IS NULL
		GROUP BY p.id
		ORDER BY p.name
		LIMIT $1 OFFSET $2;
		`
		listCategories = `
		SELECT pc.package_id, c.name
		FROM package_categories pc
		JOIN categories c ON c.id = pc.category_id;
		`
		listKeywords = `
		SELECT pk.package_id, k.name
		FROM package_keywords pk
		JOIN keywords k ON k.id = pk.keyword_id;
		`
	)
	metrics.IndexQueriesTotal.WithLabelValues("list_all").Inc()

	limit := int64(-1)
	offset := int64(0)
	if perPage > 0 && page > 0 {
		limit = int64(perPage)
		offset = int64(perPage) * int64(page-1)
	}

	categories := map[int64][]string{}
	keywords := map[int64][]string{}
	for _, q := range []struct {
		sql  string
		into map[int64][]string
	}{{listCategories, categories}, {listKeywords, keywords}} {
		rows, err := s.pool.Query(ctx, q.sql)
		if err != nil {
			return nil, api.WrapError(api.KindIndexIO, "tag query failed", err)
		}
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return nil, api.WrapError(api.KindIndexIO, "tag scan failed", err)
			}
			q.into[id] = append(q.into[id], name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "tag query failed", err)
		}
	}

	rows, err := s.pool.Query(ctx, listPackages, limit, offset)
	if err != nil {
		return nil, api.WrapError(api.KindIndexIO, "list query failed", err)
	}
	defer rows.Close()

	summaries := []api.PackageSummary{}
	for rows.Next() {
		var id int64
		var sum api.PackageSummary
		if err := rows.Scan(&id, &sum.Name, &sum.Description, &sum.Documentation,
			&sum.Homepage, &sum.Repository, &sum.CreatedAt, &sum.UpdatedAt, &sum.Versions); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "list scan failed", err)
		}
		sum.Categories = categories[id]
		if sum.Categories == nil {
			sum.Categories = []string{}
		}
		sum.Keywords = keywords[id]
		if sum.Keywords == nil {
			sum.Keywords = []string{}
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, api.WrapError(api.KindIndexIO, "list query failed", err)
	}
	return summaries, nil
}

func (s *PostgresIndex) Publish(ctx context.Context, req *api.PublishRequest, checksum string, endStep func(context.Context) error) (*api.CompletedPublication, error) {
	const (
		checkCase = `
		SELECT name FROM packages
		WHERE lower(name) = lower($1) AND registry IS NULL;
		`
		upsertPackage = `
		INSERT INTO packages (name, registry, description, documentation, homepage, repository)
		VALUES ($1, NULL, $2, $3, $4, $5)
		ON CONFLICT (name, (COALESCE(registry, ''))) DO UPDATE
		SET description   = EXCLUDED.description,
		    documentation = EXCLUDED.documentation,
		    homepage      = EXCLUDED.homepage,
		    repository    = EXCLUDED.repository,
		    updated_at    = now()
		RETURNING id, (xmax = 0) AS first_publish;
		`
		insertVersion = `
		INSERT INTO versions (package_id, version, checksum, yanked, links)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id;
		`
		insertFeature = `
		INSERT INTO features (version_id, name, enables)
		VALUES ($1, $2, $3);
		`
		upsertDepPackage = `
		INSERT INTO packages (name, registry)
		VALUES ($1, $2)
		ON CONFLICT (name, (COALESCE(registry, ''))) DO UPDATE
		SET updated_at = packages.updated_at
		RETURNING id;
		`
		insertDependency = `
		INSERT INTO dependencies (version_id, dependency_id, req, features,
		                          optional, default_features, target, kind, renamed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
		`
	)
	metrics.IndexQueriesTotal.WithLabelValues("publish").Inc()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, api.WrapError(api.KindIndexIO, "failed to begin publish transaction", err)
	}
	defer tx.Rollback(ctx)

	// Reject a publish whose name case-folds onto a differently spelled
	// existing package; storage keys and index paths are case-folded, so
	// both spellings would collide there.
	var existingName string
	err = tx.QueryRow(ctx, checkCase, req.Name).Scan(&existingName)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, api.WrapError(api.KindIndexIO, "case check failed", err)
	case existingName != req.Name:
		return nil, api.ErrBadRequest(fmt.Sprintf("name %q conflicts with existing package %q", req.Name, existingName))
	}

	completion := &api.CompletedPublication{}
	var packageID int64
	if err := tx.QueryRow(ctx, upsertPackage, req.Name, req.Description, req.Documentation,
		req.Homepage, req.Repository).Scan(&packageID, &completion.FirstPublish); err != nil {
		return nil, api.WrapError(api.KindIndexIO, "package upsert failed", err)
	}

	var versionID int64
	err = tx.QueryRow(ctx, insertVersion, packageID, req.Vers, checksum, req.Links).Scan(&versionID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, api.ErrVersionExists(req.Name, req.Vers)
		}
		return nil, api.WrapError(api.KindIndexIO, "version insert failed", err)
	}

	for name, enables := range req.Features {
		if enables == nil {
			enables = []string{}
		}
		if _, err := tx.Exec(ctx, insertFeature, versionID, name, enables); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "feature insert failed", err)
		}
	}

	for i := range req.Deps {
		dep := &req.Deps[i]
		kind := dep.Kind
		if kind == "" {
			kind = api.DependencyKindNormal
		}
		features := dep.Features
		if features == nil {
			features = []string{}
		}
		var depID int64
		if err := tx.QueryRow(ctx, upsertDepPackage, dep.Name, dep.Registry).Scan(&depID); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "dependency package upsert failed", err)
		}
		if _, err := tx.Exec(ctx, insertDependency, versionID, depID, dep.VersionReq,
			features, dep.Optional, dep.DefaultFeatures, dep.Target, string(kind), dep.ExplicitNameInToml); err != nil {
			return nil, api.WrapError(api.KindIndexIO, "dependency insert failed", err)
		}
	}

	if err := s.reconcileTags(ctx, tx, packageID, "categories", "package_categories", "category_id", req.Categories); err != nil {
		return nil, err
	}
	if err := s.reconcileTags(ctx, tx, packageID, "keywords", "package_keywords", "keyword_id", req.Keywords); err != nil {
		return nil, err
	}

	// The storage put happens here, while the index rows are still
	// provisional. A failure aborts the transaction, and commit failure
	// leaves the orchestrator to clean up the already-stored tarball.
	if err := endStep(ctx); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, api.WrapError(api.KindIndexIO, "failed to commit publish transaction", err)
	}
	return completion, nil
}

// reconcileTags makes the package's category or keyword set match want:
// missing tags are inserted, stale associations removed.
func (s *PostgresIndex) reconcileTags(ctx context.Context, tx pgx.Tx, packageID int64, tagTable, joinTable, joinColumn string, want []string) error {
	getCurrent := fmt.Sprintf(`
	SELECT t.name
	FROM %s j
	JOIN %s t ON t.id = j.%s
	WHERE j.package_id = $1;
	`, joinTable, tagTable, joinColumn)
	upsertTag := fmt.Sprintf(`
	INSERT INTO %s (name) VALUES ($1)
	ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	RETURNING id;
	`, tagTable)
	insertJoin := fmt.Sprintf(`
	INSERT INTO %s (package_id, %s) VALUES ($1, $2)
	ON CONFLICT DO NOTHING;
	`, joinTable, joinColumn)
	deleteJoin := fmt.Sprintf(`
	DELETE FROM %s j
	USING %s t
	WHERE j.package_id = $1 AND t.id = j.%s AND t.name = $2;
	`, joinTable, tagTable, joinColumn)

	current := map[string]bool{}
	rows, err := tx.Query(ctx, getCurrent, packageID)
	if err != nil {
		return api.WrapError(api.KindIndexIO, "tag fetch failed", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return api.WrapError(api.KindIndexIO, "tag scan failed", err)
		}
		current[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return api.WrapError(api.KindIndexIO, "tag fetch failed", err)
	}

	wanted := map[string]bool{}
	for _, name := range want {
		wanted[name] = true
		if current[name] {
			continue
		}
		var tagID int64
		if err := tx.QueryRow(ctx, upsertTag, name).Scan(&tagID); err != nil {
			return api.WrapError(api.KindIndexIO, "tag insert failed", err)
		}
		if _, err := tx.Exec(ctx, insertJoin, packageID, tagID); err != nil {
			return api.WrapError(api.KindIndexIO, "tag association failed", err)
		}
	}
	for name := range current {
		if wanted[name] {
			continue
		}
		if _, err := tx.Exec(ctx, deleteJoin, packageID, name); err != nil {
			return api.WrapError(api.KindIndexIO, "tag prune failed", err)
		}
	}
	return nil
}

func (s *PostgresIndex) SetYanked(ctx context.Context, name, version string, yanked bool) (bool, error) {
	const setYank = `
	UPDATE versions v
	SET yanked = $3
	FROM packages p
	WHERE p.id = v.package_id
	  AND lower(p.name) = lower($1)
	  AND p.registry IS NULL
	  AND v.version = $2
	RETURNING v.yanked;
	`
	metrics.IndexQueriesTotal.WithLabelValues("set_yanked").Inc()

	var state bool
	err := s.pool.QueryRow(ctx, setYank, name, version, yanked).Scan(&state)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, api.ErrNotFound()
	case err != nil:
		return false, api.WrapError(api.KindIndexIO, "yank update failed", err)
	}
	return state, nil
}
