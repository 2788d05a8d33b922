/*
Package api defines the canonical data shapes exchanged on the wire and
across the backend contracts, along with the registry's error taxonomy and
input validation rules.

The types mirror the cargo registry web API: publish metadata
(PublishRequest), sparse index lines (CrateFileEntry), search results,
ownership bodies, and the /index/config.json document. Backends and the
HTTP layer share these types so no translation layer is needed between
them.

# Errors

All backend failures are RegistryError values carrying an ErrorKind. The
HTTP layer maps kinds to status codes in exactly one place via
ErrorKind.StatusCode; everything below the edge wraps causes with
WrapError or the convenience constructors and never touches HTTP status
codes.

# Validation

ValidatePublish enforces the naming grammar, semver and requirement parsing,
and feature name syntax, returning soft warnings (dropped categories,
ignored badges) separate from hard rejections.

# Index layout

IndexPrefix implements the registry directory fan-out for sparse index
files ("1/", "2/", "3/{c}/", "{ab}/{cd}/"), lowercased.
*/
package api
