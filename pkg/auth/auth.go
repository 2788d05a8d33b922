package auth

import (
	"context"

	"github.com/wharf-registry/wharf/pkg/api"
)

// Identity is the authenticated principal attached to a request after
// token verification.
type Identity struct {
	ID    uint32
	Login string
	Name  *string
}

// Backend defines the authentication and ownership contract.
//
// Credential-holding backends (Postgres, FS) implement the full surface.
// Header-trust backends (OIDC) treat any verified identity as authorized
// and reject credential management. The Yes backend permits everything.
//
// Ownership is keyed by case-folded package name so it matches the
// registry's case-insensitive package identity.
type Backend interface {
	// Register creates a user and returns their first token.
	Register(ctx context.Context, login, password string) (string, error)
	// Login verifies a password and issues a fresh token.
	Login(ctx context.Context, login, password string) (string, error)
	// VerifyToken resolves a bearer token to an identity. An empty token
	// is KindUnauthorized, an unknown one KindForbidden.
	VerifyToken(ctx context.Context, token string) (*Identity, error)

	// AuthPublish checks that who may publish name. A package nobody owns
	// yet is publishable by anyone; the orchestrator grants first
	// ownership after the publish commits.
	AuthPublish(ctx context.Context, who *Identity, name string) error
	// RegisterOwner records who as an owner of name. Used by the publish
	// orchestrator on first publish and by AddOwners.
	RegisterOwner(ctx context.Context, who *Identity, name string) error
	// AuthYank checks that who may yank or unyank versions of name.
	AuthYank(ctx context.Context, who *Identity, name string) error

	// ListOwners returns the owners of name.
	ListOwners(ctx context.Context, name string) ([]api.ListedOwner, error)
	// AddOwners grants ownership to each login. The caller must already
	// own the package.
	AddOwners(ctx context.Context, who *Identity, name string, logins []string) error
	// RemoveOwners revokes ownership. Removing the last owner is
	// KindForbidden.
	RemoveOwners(ctx context.Context, who *Identity, name string, logins []string) error

	// Healthcheck reports whether the backend can serve requests.
	Healthcheck(ctx context.Context) error
}

func errNotSupported() error {
	return api.NewError(api.KindBadRequest, "operation not supported by this auth backend")
}
