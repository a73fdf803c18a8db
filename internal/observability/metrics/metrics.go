package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "platform_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	wsSessions     prometheus.Gauge
	wsCommands     *prometheus.CounterVec
	wsReplies      *prometheus.CounterVec
	wsSendFailures *prometheus.CounterVec

	activeSubscriptions   prometheus.Gauge
	subscriptionDelivered *prometheus.CounterVec

	latestLookupLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		wsSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "ws_sessions",
				Help: "Open telemetry websocket sessions",
			},
		)
		wsCommands = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ws_commands_total",
				Help: "Total telemetry websocket commands by kind and result",
			},
			[]string{"kind", "result"},
		)
		wsReplies = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ws_replies_total",
				Help: "Total telemetry websocket replies by error code",
			},
			[]string{"code"},
		)
		wsSendFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ws_send_failures_total",
				Help: "Total telemetry websocket replies dropped by reason",
			},
			[]string{"reason"},
		)

		activeSubscriptions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "subscriptions_active",
				Help: "Registered telemetry subscriptions",
			},
		)
		subscriptionDelivered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "subscription_deliveries_total",
				Help: "Total live updates pushed to subscriptions by type",
			},
			[]string{"type"},
		)

		latestLookupLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "latest_lookup_latency_seconds",
				Help:    "Latest time series lookup latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			wsSessions,
			wsCommands,
			wsReplies,
			wsSendFailures,
			activeSubscriptions,
			subscriptionDelivered,
			latestLookupLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// AddWSSessions moves the open session gauge by delta.
func AddWSSessions(delta int) {
	if wsSessions != nil {
		wsSessions.Add(float64(delta))
	}
}

// IncWSCommand counts a processed command.
func IncWSCommand(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if wsCommands != nil {
		wsCommands.WithLabelValues(kind, result).Inc()
	}
}

// IncWSReply counts a reply by error code name.
func IncWSReply(code string) {
	if code == "" {
		code = "unknown"
	}
	if wsReplies != nil {
		wsReplies.WithLabelValues(code).Inc()
	}
}

// IncWSSendFailure counts a reply that could not be delivered.
func IncWSSendFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if wsSendFailures != nil {
		wsSendFailures.WithLabelValues(reason).Inc()
	}
}

// SetActiveSubscriptions sets the registered subscription gauge.
func SetActiveSubscriptions(count int) {
	if activeSubscriptions != nil {
		activeSubscriptions.Set(float64(count))
	}
}

// IncSubscriptionDelivery counts a live update.
func IncSubscriptionDelivery(typ string) {
	if subscriptionDelivered != nil {
		subscriptionDelivered.WithLabelValues(typ).Inc()
	}
}

// ObserveLatestLookup records latest lookup latency and result.
func ObserveLatestLookup(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if latestLookupLatency != nil {
		latestLookupLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError

	ResultSuccess = resultSuccess
	ResultError   = resultError
)
