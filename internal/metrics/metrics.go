package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "intake",
		Name:      "requests_total",
		Help:      "Total verification requests accepted",
	}, []string{"verification_type", "network"})

	RequestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "intake",
		Name:      "requests_rejected_total",
		Help:      "Total verification requests rejected as malformed",
	}, []string{"reason"})

	// Verification
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "verifier",
		Name:      "verifications_total",
		Help:      "Total verification outcomes by status",
	}, []string{"status"})

	VerificationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "verifier",
		Name:      "idempotent_hits_total",
		Help:      "Verifications answered from an existing verified result",
	})

	VerificationConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "registry",
		Subsystem: "verifier",
		Name:      "confidence",
		Help:      "Confidence of produced verification results",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}, []string{"status"})

	VerificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "registry",
		Subsystem: "verifier",
		Name:      "duration_seconds",
		Help:      "Time spent producing a verification result",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	BatchItemsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "verifier",
		Name:      "batch_items_failed_total",
		Help:      "Batch items dropped because request or verification errored",
	})

	// Ledger / reputation
	ProvenanceRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "provenance",
		Name:      "records_total",
		Help:      "Total provenance records appended",
	}, []string{"action"})

	ReputationUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "reputation",
		Name:      "updates_total",
		Help:      "Total reputation adjustments",
	}, []string{"direction"})

	// Maintenance
	CleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "maintenance",
		Name:      "deleted_total",
		Help:      "Total records removed by retention cleanup",
	}, []string{"kind"})

	CleanupErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "maintenance",
		Name:      "cleanup_errors_total",
		Help:      "Total failed retention cleanup runs",
	})

	// Event stream
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total registry events written to the event stream",
	}, []string{"event_type"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total registry events not delivered",
	}, []string{"reason"})

	// Result cache
	ResultCacheHits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registry",
		Subsystem: "cache",
		Name:      "result_hits",
		Help:      "Cumulative result cache hits",
	})

	ResultCacheMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registry",
		Subsystem: "cache",
		Name:      "result_misses",
		Help:      "Cumulative result cache misses",
	})

	// Postgres pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registry",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registry",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections in the pool",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registry",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Current number of idle PostgreSQL connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "registry",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative count of waits for PostgreSQL connections from pool",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})

	// Admin API
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total admin API requests by route and status code",
	}, []string{"route", "code"})

	APIRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total admin API requests rejected by the rate limiter",
	})
)
