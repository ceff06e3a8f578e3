// Package metrics provides Prometheus instrumentation for the escrow workflow.
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
			Namespace: "gametrust",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gametrust",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransitionsTotal counts committed lifecycle transitions by resulting state.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gametrust",
			Name:      "transitions_total",
			Help:      "Total committed transaction transitions by resulting state.",
		},
		[]string{"state"},
	)

	// NegotiationMessagesTotal counts appended negotiation messages by kind.
	NegotiationMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gametrust",
			Name:      "negotiation_messages_total",
			Help:      "Total negotiation messages appended by kind.",
		},
		[]string{"kind"},
	)

	// SafePeriodExtensionsTotal counts granted safe-period extensions.
	SafePeriodExtensionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gametrust",
			Name:      "safe_period_extensions_total",
			Help:      "Total safe-period extensions granted by administrators.",
		},
	)

	// SafePeriodResolutionsTotal counts safe-period resolutions by outcome.
	SafePeriodResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gametrust",
			Name:      "safe_period_resolutions_total",
			Help:      "Total safe-period resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	// ProtectionPlansTotal counts protection-plan status changes.
	ProtectionPlansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gametrust",
			Name:      "protection_plans_total",
			Help:      "Total protection-plan status changes (active, redeemed, expired).",
		},
		[]string{"status"},
	)

	// NotificationDeliveriesTotal counts notification delivery attempts by result.
	NotificationDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gametrust",
			Name:      "notification_deliveries_total",
			Help:      "Total notification deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gametrust",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// SweepRunsTotal counts background sweep iterations by result.
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gametrust",
			Name:      "sweep_runs_total",
			Help:      "Total expiry sweep iterations by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gametrust", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gametrust", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gametrust", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransitionsTotal,
		NegotiationMessagesTotal,
		SafePeriodExtensionsTotal,
		SafePeriodResolutionsTotal,
		ProtectionPlansTotal,
		NotificationDeliveriesTotal,
		ActiveWebSocketClients,
		SweepRunsTotal,
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
