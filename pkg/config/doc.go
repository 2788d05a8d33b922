/*
Package config loads the registry's YAML configuration and constructs
the backend triple from it.

The file is selected by -c on the command line. The service.* block
covers listen addresses, the advertised download/API endpoints, size and
timeout bounds, and logging. The remaining top-level keys select one
implementation per backend contract:

	index_db:   postgres://...          relational index
	index_path: /var/lib/wharf/index.db embedded index

	store:       {name, endpoint_url, region, access_key_id, access_key_secret}
	store_path:  /var/lib/wharf/crates  local directory

	auth_db:       postgres://...       relational auth
	auth_path:     /var/lib/wharf/auth.json  (+ auth_tokens_pepper)
	auth_audience: ...  (+ auth_team_base_url)  identity-proxy JWT trust
	(none)                                      permissive

Validate rejects ambiguous combinations; BuildIndex, BuildStorage, and
BuildAuth hand the wired backends to the server.
*/
package config
