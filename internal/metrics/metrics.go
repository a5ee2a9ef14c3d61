// Package metrics holds the Prometheus collectors for the expenses service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring service health and performance
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expenses_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expenses_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	SubmissionsSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expenses_submissions_saved_total",
			Help: "Total number of submission records written",
		},
	)

	SaveFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expenses_save_failures_total",
			Help: "Total number of submission body writes that failed",
		},
	)

	IndexUpdateFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expenses_index_update_failures_total",
			Help: "Total number of index updates that failed after a successful body write",
		},
	)

	RecordsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expenses_records_skipped_total",
			Help: "Records skipped while loading, by reason",
		},
		[]string{"reason"},
	)

	LoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expenses_load_duration_seconds",
			Help:    "Duration of repository loads by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expenses_legacy_migrations_total",
			Help: "Legacy migrations run, by outcome",
		},
		[]string{"outcome"},
	)

	TokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expenses_token_verifications_total",
			Help: "Admin token verifications, by result",
		},
		[]string{"result"},
	)

	ReceiptUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expenses_receipt_uploads_total",
			Help: "Receipt uploads, by outcome",
		},
		[]string{"outcome"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expenses_notifications_total",
			Help: "Email notifications, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SubmissionsSavedTotal,
		SaveFailuresTotal,
		IndexUpdateFailuresTotal,
		RecordsSkippedTotal,
		LoadDuration,
		MigrationsTotal,
		TokenVerificationsTotal,
		ReceiptUploadsTotal,
		NotificationsTotal,
	)
}
