package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/wharf-registry/wharf/pkg/api"
)

// authMigrations is applied in order at startup. Statements are
// idempotent so restarts are safe.
var authMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            SERIAL PRIMARY KEY,
		login         TEXT NOT NULL UNIQUE,
		name          TEXT,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS tokens (
		digest     TEXT PRIMARY KEY,
		user_id    INTEGER NOT NULL REFERENCES users (id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS ownership (
		user_id      INTEGER NOT NULL REFERENCES users (id),
		package_name TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT ownership_user_package_key UNIQUE (user_id, package_name)
	);`,
	`CREATE INDEX IF NOT EXISTS ownership_package_name_idx ON ownership (package_name);`,
}

// PostgresAuth implements Backend on a PostgreSQL database, selected by
// the auth_db configuration option. Ownership rows reference packages by
// case-folded name so the auth database needs no link to the index
// database.
type PostgresAuth struct {
	pool   *pgxpool.Pool
	pepper string
}

// NewPostgresAuth connects to the database, applies the schema, and
// returns a ready backend.
func NewPostgresAuth(ctx context.Context, dsn, pepper string, maxConns int32) (*PostgresAuth, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse auth database config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth database pool: %w", err)
	}
	for i, stmt := range authMigrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("auth migration %d failed: %w", i, err)
		}
	}
	return &PostgresAuth{pool: pool, pepper: pepper}, nil
}

func (a *PostgresAuth) Close() error {
	a.pool.Close()
	return nil
}

func (a *PostgresAuth) Healthcheck(ctx context.Context) error {
	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	return a.pool.Ping(tctx)
}

func (a *PostgresAuth) Register(ctx context.Context, login, password string) (string, error) {
	const insertUser = `
	INSERT INTO users (login, password_hash)
	VALUES ($1, $2)
	RETURNING id;
	`
	if login == "" || password == "" {
		return "", api.ErrBadRequest("login and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", api.WrapError(api.KindAuthIO, "failed to hash password", err)
	}

	var userID uint32
	err = a.pool.QueryRow(ctx, insertUser, login, string(hash)).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", api.NewError(api.KindConflict, "login is already taken")
		}
		return "", api.WrapError(api.KindAuthIO, "user insert failed", err)
	}
	return a.issueToken(ctx, userID)
}

func (a *PostgresAuth) Login(ctx context.Context, login, password string) (string, error) {
	const getUser = `
	SELECT id, password_hash FROM users WHERE login = $1;
	`
	var userID uint32
	var hash string
	err := a.pool.QueryRow(ctx, getUser, login).Scan(&userID, &hash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", api.ErrForbidden("invalid credentials")
	case err != nil:
		return "", api.WrapError(api.KindAuthIO, "user lookup failed", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", api.ErrForbidden("invalid credentials")
	}
	return a.issueToken(ctx, userID)
}

func (a *PostgresAuth) issueToken(ctx context.Context, userID uint32) (string, error) {
	const insertToken = `
	INSERT INTO tokens (digest, user_id) VALUES ($1, $2);
	`
	token, err := newToken()
	if err != nil {
		return "", api.WrapError(api.KindAuthIO, "failed to issue token", err)
	}
	if _, err := a.pool.Exec(ctx, insertToken, tokenDigest(a.pepper, token), userID); err != nil {
		return "", api.WrapError(api.KindAuthIO, "token insert failed", err)
	}
	return token, nil
}

func (a *PostgresAuth) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	const getIdentity = `
	SELECT u.id, u.login, u.name
	FROM tokens t
	JOIN users u ON u.id = t.user_id
	WHERE t.digest = $1;
	`
	if token == "" {
		return nil, api.ErrUnauthorized("missing token")
	}

	var id Identity
	err := a.pool.QueryRow(ctx, getIdentity, tokenDigest(a.pepper, token)).Scan(&id.ID, &id.Login, &id.Name)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, api.ErrForbidden("unknown token")
	case err != nil:
		return nil, api.WrapError(api.KindAuthIO, "token lookup failed", err)
	}
	return &id, nil
}

func (a *PostgresAuth) AuthPublish(ctx context.Context, who *Identity, name string) error {
	const countOwners = `
	SELECT count(*),
	       count(*) FILTER (WHERE user_id = $2)
	FROM ownership
	WHERE package_name = $1;
	`
	var total, mine int
	if err := a.pool.QueryRow(ctx, countOwners, ownershipKey(name), who.ID).Scan(&total, &mine); err != nil {
		return api.WrapError(api.KindAuthIO, "ownership lookup failed", err)
	}
	if total == 0 {
		// Unowned package: anyone may take the first publish.
		return nil
	}
	if mine == 0 {
		return api.ErrForbidden("you are not an owner of this package")
	}
	return nil
}

func (a *PostgresAuth) RegisterOwner(ctx context.Context, who *Identity, name string) error {
	const insertOwner = `
	INSERT INTO ownership (user_id, package_name)
	VALUES ($1, $2)
	ON CONFLICT (user_id, package_name) DO NOTHING;
	`
	if _, err := a.pool.Exec(ctx, insertOwner, who.ID, ownershipKey(name)); err != nil {
		return api.WrapError(api.KindAuthIO, "ownership insert failed", err)
	}
	return nil
}

func (a *PostgresAuth) AuthYank(ctx context.Context, who *Identity, name string) error {
	const isOwner = `
	SELECT EXISTS (
		SELECT 1 FROM ownership WHERE package_name = $1 AND user_id = $2
	);
	`
	var owner bool
	if err := a.pool.QueryRow(ctx, isOwner, ownershipKey(name), who.ID).Scan(&owner); err != nil {
		return api.WrapError(api.KindAuthIO, "ownership lookup failed", err)
	}
	if !owner {
		return api.ErrForbidden("you are not an owner of this package")
	}
	return nil
}

func (a *PostgresAuth) ListOwners(ctx context.Context, name string) ([]api.ListedOwner, error) {
	const listOwners = `
	SELECT u.id, u.login, u.name
	FROM ownership o
	JOIN users u ON u.id = o.user_id
	WHERE o.package_name = $1
	ORDER BY u.id;
	`
	rows, err := a.pool.Query(ctx, listOwners, ownershipKey(name))
	if err != nil {
		return nil, api.WrapError(api.KindAuthIO, "owners query failed", err)
	}
	defer rows.Close()

	var owners []api.ListedOwner
	for rows.Next() {
		var o api.ListedOwner
		if err := rows.Scan(&o.ID, &o.Login, &o.Name); err != nil {
			return nil, api.WrapError(api.KindAuthIO, "owners scan failed", err)
		}
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, api.WrapError(api.KindAuthIO, "owners query failed", err)
	}
	return owners, nil
}

func (a *PostgresAuth) AddOwners(ctx context.Context, who *Identity, name string, logins []string) error {
	const (
		resolveUser = `
		SELECT id FROM users WHERE login = $1;
		`
		insertOwner = `
		INSERT INTO ownership (user_id, package_name)
		VALUES ($1, $2)
		ON CONFLICT (user_id, package_name) DO NOTHING;
		`
	)
	if err := a.AuthYank(ctx, who, name); err != nil {
		return err
	}

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return api.WrapError(api.KindAuthIO, "failed to begin ownership transaction", err)
	}
	defer tx.Rollback(ctx)

	key := ownershipKey(name)
	for _, login := range logins {
		var userID uint32
		err := tx.QueryRow(ctx, resolveUser, login).Scan(&userID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return api.ErrBadRequest(fmt.Sprintf("no such user: %s", login))
		case err != nil:
			return api.WrapError(api.KindAuthIO, "user lookup failed", err)
		}
		if _, err := tx.Exec(ctx, insertOwner, userID, key); err != nil {
			return api.WrapError(api.KindAuthIO, "ownership insert failed", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return api.WrapError(api.KindAuthIO, "failed to commit ownership transaction", err)
	}
	return nil
}

func (a *PostgresAuth) RemoveOwners(ctx context.Context, who *Identity, name string, logins []string) error {
	const (
		resolveUser = `
		SELECT id FROM users WHERE login = $1;
		`
		deleteOwner = `
		DELETE FROM ownership WHERE user_id = $1 AND package_name = $2;
		`
		countOwners = `
		SELECT count(*) FROM ownership WHERE package_name = $1;
		`
	)
	if err := a.AuthYank(ctx, who, name); err != nil {
		return err
	}

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return api.WrapError(api.KindAuthIO, "failed to begin ownership transaction", err)
	}
	defer tx.Rollback(ctx)

	key := ownershipKey(name)
	for _, login := range logins {
		var userID uint32
		err := tx.QueryRow(ctx, resolveUser, login).Scan(&userID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return api.ErrBadRequest(fmt.Sprintf("no such user: %s", login))
		case err != nil:
			return api.WrapError(api.KindAuthIO, "user lookup failed", err)
		}
		if _, err := tx.Exec(ctx, deleteOwner, userID, key); err != nil {
			return api.WrapError(api.KindAuthIO, "ownership delete failed", err)
		}
	}

	// The last owner cannot be removed; orphaned packages would be
	// unmanageable.
	var remaining int
	if err := tx.QueryRow(ctx, countOwners, key).Scan(&remaining); err != nil {
		return api.WrapError(api.KindAuthIO, "ownership count failed", err)
	}
	if remaining == 0 {
		return api.ErrForbidden("cannot remove the last owner")
	}

	if err := tx.Commit(ctx); err != nil {
		return api.WrapError(api.KindAuthIO, "failed to commit ownership transaction", err)
	}
	return nil
}
