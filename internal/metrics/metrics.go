// Package metrics holds the Prometheus collectors shared by the client
// components and the local dashboard server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinkthank_backend_requests_total",
			Help: "Requests sent to the analysis backend.",
		},
		[]string{"endpoint", "outcome"},
	)
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thinkthank_backend_request_seconds",
			Help:    "Latency of analysis backend requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	CredentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinkthank_credential_refresh_total",
			Help: "Access credential refresh attempts.",
		},
		[]string{"outcome"},
	)
	StaleDiscards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinkthank_stale_responses_discarded_total",
			Help: "Responses dropped because their target was no longer selected.",
		},
		[]string{"component"},
	)
	BusyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinkthank_single_flight_rejections_total",
			Help: "Operations ignored because another one was in flight.",
		},
		[]string{"component", "operation"},
	)
	UploadOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinkthank_upload_candidates_total",
			Help: "Upload candidates by terminal status.",
		},
		[]string{"status"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinkthank_http_requests_total",
			Help: "Requests served by the local dashboard server.",
		},
		[]string{"method", "status"},
	)
	MirrorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinkthank_note_mirror_failures_total",
			Help: "Failed note mirror writes by target.",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(
		BackendRequests,
		BackendLatency,
		CredentialRefreshes,
		StaleDiscards,
		BusyRejections,
		UploadOutcomes,
		HTTPRequests,
		MirrorFailures,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
