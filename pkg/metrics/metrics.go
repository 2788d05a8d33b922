package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP surface metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharf_requests_total",
			Help: "Total number of HTTP requests by route and status class",
		},
		[]string{"route", "class"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wharf_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	PanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wharf_panics_total",
			Help: "Total number of panics recovered in HTTP handlers",
		},
	)

	// Publish pipeline metrics
	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharf_publishes_total",
			Help: "Total number of publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	CompensatingDeletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wharf_compensating_deletes_total",
			Help: "Total number of compensating storage deletes after failed publishes",
		},
	)

	// Storage backend metrics
	StorageOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharf_storage_ops_total",
			Help: "Total number of storage backend operations by op and result",
		},
		[]string{"op", "result"},
	)

	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wharf_storage_op_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Index backend metrics
	IndexQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharf_index_queries_total",
			Help: "Total number of index backend queries by op",
		},
		[]string{"op"},
	)

	SparseEntriesServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wharf_sparse_entries_served_total",
			Help: "Total number of sparse index entries served",
		},
	)

	// Auth backend metrics
	TokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharf_token_verifications_total",
			Help: "Total number of token verifications by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(PanicsTotal)
	prometheus.MustRegister(PublishesTotal)
	prometheus.MustRegister(CompensatingDeletesTotal)
	prometheus.MustRegister(StorageOpsTotal)
	prometheus.MustRegister(StorageOpDuration)
	prometheus.MustRegister(IndexQueriesTotal)
	prometheus.MustRegister(SparseEntriesServed)
	prometheus.MustRegister(TokenVerificationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
