package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	entriesTransformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kml_entries_transformed_total",
			Help: "Entries transformed to placemarks, by path and outcome.",
		},
		[]string{"path", "outcome"},
	)

	documentFeatures = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kml_document_features",
			Help:    "Placemarks per produced KML document.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	documentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kml_document_bytes",
			Help:    "Serialized KML document size in bytes.",
			Buckets: prometheus.ExponentialBuckets(512, 4, 10),
		},
	)

	subscriptionOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kml_subscription_operations_total",
			Help: "Subscription registry operations by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	subscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kml_subscriptions_active",
			Help: "Live subscription registrations.",
		},
	)

	sinkOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kml_subscription_sink_op_duration_seconds",
			Help:    "Latency of subscription sink operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"sink", "op", "outcome"},
	)

	catalogEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kml_catalog_events_total",
			Help: "Catalog change events consumed, by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	catalogEventAffected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kml_catalog_event_affected_subscriptions",
			Help:    "Subscriptions whose area a catalog change touched.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveEntry counts one entry transform. path is "delegate" or "default".
func ObserveEntry(path, outcome string) {
	entriesTransformed.WithLabelValues(path, outcome).Inc()
}

func ObserveDocument(features, size int) {
	documentFeatures.Observe(float64(features))
	documentBytes.Observe(float64(size))
}

func ObserveSubscription(op, outcome string) {
	subscriptionOps.WithLabelValues(op, outcome).Inc()
}

func SetActiveSubscriptions(n int) {
	subscriptionsActive.Set(float64(n))
}

func ObserveSinkOp(sink, op string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sinkOpDuration.WithLabelValues(sink, op, outcome).Observe(time.Since(start).Seconds())
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func ObserveCatalogEvent(op, outcome string, affected int) {
	catalogEvents.WithLabelValues(op, outcome).Inc()
	if outcome == "ok" {
		catalogEventAffected.Observe(float64(affected))
	}
}
