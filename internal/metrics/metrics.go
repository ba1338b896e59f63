// Package metrics provides Prometheus instrumentation for the PayMesh core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paymesh",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsTotal counts processed transactions by terminal status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "transactions_total",
			Help:      "Total transactions processed by terminal status.",
		},
		[]string{"status"},
	)

	// VerdictsTotal counts pipeline verdicts.
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "verdicts_total",
			Help:      "Total security verdicts by outcome.",
		},
		[]string{"verdict"},
	)

	// PipelineDuration observes end-to-end pipeline evaluation latency.
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paymesh",
		Name:      "pipeline_duration_seconds",
		Help:      "Security pipeline evaluation duration in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// OracleFailuresTotal counts scoring oracle failures by layer and kind.
	OracleFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "oracle_failures_total",
			Help:      "Total scoring oracle failures by layer and failure kind.",
		},
		[]string{"layer", "kind"},
	)

	// SmsChallengesTotal counts SMS verification challenges by outcome.
	SmsChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "sms_challenges_total",
			Help:      "Total SMS verification challenges by outcome.",
		},
		[]string{"outcome"},
	)

	// ProbesTotal counts channel probes by channel and resulting status.
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "channel_probes_total",
			Help:      "Total channel probes by channel and status.",
		},
		[]string{"channel", "status"},
	)

	// SendsTotal counts channel send attempts by channel and outcome.
	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "channel_sends_total",
			Help:      "Total channel send attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	// PendingQueueDepth tracks transactions queued offline awaiting replay.
	PendingQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paymesh",
		Name:      "pending_queue_depth",
		Help:      "Number of transactions queued in local storage awaiting replay.",
	})

	// ReplayedTotal counts queued transactions replayed by result.
	ReplayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "pending_replayed_total",
			Help:      "Total queued transactions replayed by result.",
		},
		[]string{"result"},
	)

	// AuditBacklog tracks audit records buffered but not yet committed.
	AuditBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paymesh",
		Name:      "audit_backlog",
		Help:      "Audit records buffered in memory awaiting commit.",
	})

	// AuditDeferredTotal counts audit appends that were deferred for retry.
	AuditDeferredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paymesh",
		Name:      "audit_deferred_total",
		Help:      "Total audit appends deferred after a sink failure.",
	})

	// AuditDroppedTotal counts audit records dropped after exhausting retries.
	AuditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paymesh",
		Name:      "audit_dropped_total",
		Help:      "Total audit records dropped after exhausting retries.",
	})

	// TrustConflictsTotal counts optimistic-concurrency conflicts on trust updates.
	TrustConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paymesh",
		Name:      "trust_conflicts_total",
		Help:      "Total trust profile update conflicts detected.",
	})

	// ActiveWebSocketClients tracks connected audit feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paymesh",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paymesh", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paymesh", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paymesh", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsTotal,
		VerdictsTotal,
		PipelineDuration,
		OracleFailuresTotal,
		SmsChallengesTotal,
		ProbesTotal,
		SendsTotal,
		PendingQueueDepth,
		ReplayedTotal,
		AuditBacklog,
		AuditDeferredTotal,
		AuditDroppedTotal,
		TrustConflictsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
