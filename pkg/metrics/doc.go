/*
Package metrics provides Prometheus metrics collection and exposition for Wharf.

The metrics package defines and registers all Wharf metrics using the
Prometheus client library, providing observability into request latency,
publish pipeline outcomes, backend operation counts, and recovered panics.
Metrics are exposed via a dedicated HTTP listener for scraping by Prometheus
servers.

# Metrics

HTTP surface:
  - wharf_requests_total{route, class}: request counter by route and status class
  - wharf_request_duration_seconds{route}: per-route latency histogram
  - wharf_panics_total: panics recovered by the handler middleware

Publish pipeline:
  - wharf_publishes_total{outcome}: publish attempts by outcome
    (ok, version_exists, forbidden, bad_request, error)
  - wharf_compensating_deletes_total: storage deletes issued to undo a
    tarball put whose index transaction failed

Backends:
  - wharf_storage_ops_total{op, result} and wharf_storage_op_duration_seconds{op}
  - wharf_index_queries_total{op}
  - wharf_sparse_entries_served_total
  - wharf_token_verifications_total{result}

# Usage

Recording:

	metrics.PublishesTotal.WithLabelValues("ok").Inc()

	timer := prometheus.NewTimer(metrics.StorageOpDuration.WithLabelValues("put"))
	defer timer.ObserveDuration()

Exposition:

	http.ListenAndServe(cfg.MetricsAddress, metrics.Handler())

All collectors are registered once in init(); the package is safe for
concurrent use from any goroutine.
*/
package metrics
