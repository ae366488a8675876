// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docqa"

var (
	// IndexPoints is the number of vectors held by the in-process index.
	IndexPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "points",
			Help:      "Number of document vectors in the index",
		},
	)

	// IndexQueryDuration tracks nearest-neighbor scan latency.
	IndexQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "query_duration_seconds",
			Help:      "Duration of tenant-scoped nearest-neighbor queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RetrievalRequests counts ask requests.
	// Labels: outcome (hits, empty, no_documents, error)
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of retrieval requests by outcome",
		},
		[]string{"outcome"},
	)

	// DocumentsIngested counts ingest calls.
	// Labels: result (created, existing, error)
	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "ingested_total",
			Help:      "Total number of document ingest calls by result",
		},
		[]string{"result"},
	)

	// TenantCacheLookups counts tenant directory cache lookups.
	// Labels: result (hit, miss, error)
	TenantCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "cache_lookups_total",
			Help:      "Total number of tenant cache lookups by result",
		},
		[]string{"result"},
	)

	// HTTPRequestDuration tracks request latency per route.
	// Labels: method, route, status
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// RateLimited counts requests rejected by the per-key limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
	)
)
