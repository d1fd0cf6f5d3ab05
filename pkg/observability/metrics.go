package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authentication metrics
	LoginsInitiatedTotal  prometheus.Counter
	CallbacksTotal        *prometheus.CounterVec
	ValidationRunsTotal   *prometheus.CounterVec
	ReplayRejectionsTotal prometheus.Counter

	// Replay guard metrics
	ReplayChecksTotal        *prometheus.CounterVec
	ReplayCheckDuration      *prometheus.HistogramVec
	ReplayEntriesSweptTotal  prometheus.Counter

	// Credential cache metrics
	CredentialCacheHitsTotal   *prometheus.CounterVec
	CredentialCacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge

	// Configuration metrics
	ConfigReloadsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "samlgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "samlgate_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "samlgate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Authentication metrics
		LoginsInitiatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "samlgate_logins_initiated_total",
				Help: "Total number of login redirects issued",
			},
		),
		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_callbacks_total",
				Help: "Total number of SAML callbacks processed",
			},
			[]string{"outcome"},
		),
		ValidationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_validation_runs_total",
				Help: "Total number of admin validation runs",
			},
			[]string{"status"},
		),
		ReplayRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "samlgate_replay_rejections_total",
				Help: "Total number of responses rejected as replays",
			},
		),

		// Replay guard metrics
		ReplayChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_replay_checks_total",
				Help: "Total number of replay guard checks",
			},
			[]string{"backend", "status"},
		),
		ReplayCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "samlgate_replay_check_duration_seconds",
				Help:    "Replay guard check duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend"},
		),
		ReplayEntriesSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "samlgate_replay_entries_swept_total",
				Help: "Total number of expired replay entries removed",
			},
		),

		// Credential cache metrics
		CredentialCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_credential_cache_hits_total",
				Help: "Total number of credential cache hits",
			},
			[]string{"kind"},
		),
		CredentialCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_credential_cache_misses_total",
				Help: "Total number of credential cache misses",
			},
			[]string{"kind"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "samlgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "samlgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "samlgate_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),

		// Configuration metrics
		ConfigReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_config_reloads_total",
				Help: "Total number of settings reloads",
			},
			[]string{"status"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.LoginsInitiatedTotal,
		m.CallbacksTotal,
		m.ValidationRunsTotal,
		m.ReplayRejectionsTotal,
		m.ReplayChecksTotal,
		m.ReplayCheckDuration,
		m.ReplayEntriesSweptTotal,
		m.CredentialCacheHitsTotal,
		m.CredentialCacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisConnectionsActive,
		m.ConfigReloadsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint mounts the Prometheus exposition endpoint on the
// service router.
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// SamplePoolStats copies the current connection pool statistics into the
// gauges. Either handle may be nil.
func (m *Metrics) SamplePoolStats(db *sql.DB, redisClient *redis.Client) {
	if db != nil {
		stats := db.Stats()
		m.DBConnectionsActive.Set(float64(stats.InUse))
		m.DBConnectionsIdle.Set(float64(stats.Idle))
	}
	if redisClient != nil {
		m.RedisConnectionsActive.Set(float64(redisClient.PoolStats().TotalConns))
	}
}

// CollectPoolStats samples the pool gauges on an interval until ctx is done.
func (m *Metrics) CollectPoolStats(ctx context.Context, db *sql.DB, redisClient *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SamplePoolStats(db, redisClient)
		}
	}
}
