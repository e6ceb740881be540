// Package metrics provides Prometheus metrics for the docpick service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_requests_total",
			Help: "Total number of API requests by route",
		},
		[]string{"route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docpick_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Provider calls
	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_listings_total",
			Help: "Remote directory page fetches",
		},
		[]string{"provider", "status"},
	)

	listingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docpick_listing_duration_seconds",
			Help:    "Remote directory page fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	materializedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_materialized_bytes_total",
			Help: "Bytes written to the scratch area by remote downloads",
		},
		[]string{"provider"},
	)

	materializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_materializations_total",
			Help: "Remote file downloads",
		},
		[]string{"provider", "status"},
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_token_refreshes_total",
			Help: "OAuth token refresh attempts",
		},
		[]string{"provider", "result"},
	)

	authorizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_authorizations_total",
			Help: "Completed OAuth authorization attempts",
		},
		[]string{"provider", "result"},
	)

	// Ingestion
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_uploads_total",
			Help: "Upload submissions by source kind",
		},
		[]string{"source", "result"},
	)

	cacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpick_cache_invalidations_total",
			Help: "Dependent cached views invalidated after an upload",
		},
		[]string{"view"},
	)

	activeBrowseSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docpick_browse_sessions_active",
			Help: "Number of open browse sessions",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordRequest records an API request against its route pattern.
func RecordRequest(route string, code int, d time.Duration) {
	requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordListing records one remote page fetch.
func RecordListing(provider string, d time.Duration, ok bool) {
	listingsTotal.WithLabelValues(provider, status(ok)).Inc()
	listingDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordMaterialization records one remote download.
func RecordMaterialization(provider string, bytes int64, ok bool) {
	if ok {
		materializedBytes.WithLabelValues(provider).Add(float64(bytes))
	}
	materializationsTotal.WithLabelValues(provider, status(ok)).Inc()
}

// RecordRefresh records a token refresh attempt.
func RecordRefresh(provider string, ok bool) {
	tokenRefreshesTotal.WithLabelValues(provider, status(ok)).Inc()
}

// RecordAuthorization records the outcome of an authorization callback.
func RecordAuthorization(provider string, ok bool) {
	authorizationsTotal.WithLabelValues(provider, status(ok)).Inc()
}

// RecordUpload records the outcome of an ingestion submit.
func RecordUpload(source string, ok bool) {
	uploadsTotal.WithLabelValues(source, status(ok)).Inc()
}

// RecordInvalidation records one invalidated cached view.
func RecordInvalidation(view string) {
	cacheInvalidationsTotal.WithLabelValues(view).Inc()
}

// SetBrowseSessions sets the number of open browse sessions.
func SetBrowseSessions(n int) {
	activeBrowseSessions.Set(float64(n))
}
