/*
Package auth provides authentication, token management, and per-package
ownership for the registry.

Four backends implement the Backend interface:

  - PostgresAuth: users, tokens, and ownership in a relational database
    (auth_db). The full credential surface.
  - FSAuth: a single atomically rewritten JSON state file
    (auth_path + auth_tokens_pepper). The full credential surface for
    single-node deployments.
  - OIDCAuth: trusts a signed JWT injected by an identity proxy
    (auth_audience + auth_team_base_url). Verification covers signature,
    audience, and expiry; any verified identity is authorized for every
    package, and credential management is unsupported.
  - YesAuth: permissive. Selected when no auth options are configured.

# Tokens

Issued tokens are opaque: the wrf_ prefix plus 32 random bytes
base64-url encoded. Backends store only an HMAC-SHA256 digest of the
token under the configured pepper; plaintext is never retained. The
digest is deterministic so verification is a single lookup, and the 256
bits of token entropy make a stretching KDF unnecessary. Passwords, by
contrast, are hashed with bcrypt.

# Ownership

Ownership is an edge from a user to a case-folded package name. The
first successful publish of a package grants ownership to the publisher
(driven by the publish orchestrator via RegisterOwner); after that,
publish and yank require ownership, and owners manage the owner set
through AddOwners/RemoveOwners. The last owner can never be removed.
*/
package auth
