// Package metrics provides Prometheus instrumentation for the engine.
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
			Namespace: "jobledger",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReleasesTotal counts funds-release outcomes.
	ReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobledger",
			Name:      "releases_total",
			Help:      "Total funds-release attempts by result (released, duplicate, not_ready, illegal, busy, provider_error).",
		},
		[]string{"result"},
	)

	// ProviderCallsTotal counts outbound payment-provider calls.
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobledger",
			Name:      "provider_calls_total",
			Help:      "Total payment provider calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	// ProviderCallDuration observes payment-provider call latency.
	ProviderCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobledger",
		Name:      "provider_call_duration_seconds",
		Help:      "Payment provider call duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})

	// EnforcementActionsTotal counts dispute enforcement action outcomes.
	EnforcementActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobledger",
			Name:      "enforcement_actions_total",
			Help:      "Total dispute enforcement actions by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// SLABreachesDetectedTotal counts breaches found by the monitor.
	SLABreachesDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jobledger",
		Name:      "sla_breaches_detected_total",
		Help:      "Total SLA breaches detected by the monitor.",
	})

	// LockWaitDuration observes how long release calls waited for the
	// per-job financial lock.
	LockWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jobledger",
		Name:      "lock_wait_duration_seconds",
		Help:      "Time spent waiting for a job's financial lock.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobledger",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by event type and result.",
		},
		[]string{"event_type", "result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobledger", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobledger", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobledger", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
	// ActiveWebSocketClients tracks connected realtime clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobledger", Name: "websocket_clients",
		Help: "Currently connected WebSocket clients.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ReleasesTotal,
		ProviderCallsTotal,
		ProviderCallDuration,
		EnforcementActionsTotal,
		SLABreachesDetectedTotal,
		LockWaitDuration,
		WebhookDeliveriesTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
		ActiveWebSocketClients,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and the runtime
// goroutine count into gauges. Call in a goroutine; exits when ctx is done.
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
			c.FullPath(), // route pattern, not raw path (bounded cardinality)
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

// Handler returns the Prometheus metrics handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into coarse buckets.
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
