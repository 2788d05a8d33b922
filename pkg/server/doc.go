/*
Package server projects the registry's fixed HTTP wire surface onto the
three backend contracts.

# Surface

	GET    /index/config.json                     registry discovery
	GET    /index/{prefix}/{name}                 sparse index (NDJSON)
	GET    /downloads/{name}/{version}            tarball download
	PUT    /api/v1/crates/new                     publish
	DELETE /api/v1/crates/{name}/{version}/yank   yank
	PUT    /api/v1/crates/{name}/{version}/unyank unyank
	GET    /api/v1/crates?q=&per_page=            search
	GET    /api/v1/crates/all                     package dump
	GET    /api/v1/crates/{name}/{version}/readme stored readme
	GET/PUT/DELETE /api/v1/crates/{name}/owners   ownership
	POST   /api/v1/crates/account                 registration
	POST   /api/v1/crates/account/token           login
	GET    /me                                    browser login shim

Prometheus exposition and /healthz run on a separate listener so
scraping is isolated from the service port.

# Publish pipeline

publish.go is the only multi-backend transaction: it parses cargo's
length-prefixed framing, validates metadata, authorizes, computes the
SHA-256 checksum, and calls Index.Publish with the storage put as the
transaction's end step. The index commits last, so a visible version
always has its tarball; any failure after the put landed triggers a
compensating storage delete. A first publish additionally grants
ownership to the publisher, with a best-effort yank plus delete if the
grant fails.

# Middleware

Every request gets a correlation id, per-route metrics, and panic
recovery. Publishes pass a per-client rate limiter and a body size cap.
Once shutdown begins, a drain barrier turns new requests into 503 while
in-flight ones finish within the configured deadline.
*/
package server
