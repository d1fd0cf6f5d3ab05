package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Run("creates and registers all metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		if metrics == nil {
			t.Fatal("NewMetrics returned nil")
		}

		// Verify HTTP metrics are initialized
		if metrics.HTTPRequestsTotal == nil {
			t.Error("HTTPRequestsTotal is nil")
		}
		if metrics.HTTPRequestDuration == nil {
			t.Error("HTTPRequestDuration is nil")
		}
		if metrics.HTTPRequestSize == nil {
			t.Error("HTTPRequestSize is nil")
		}
		if metrics.HTTPResponseSize == nil {
			t.Error("HTTPResponseSize is nil")
		}

		// Verify authentication metrics are initialized
		if metrics.LoginsInitiatedTotal == nil {
			t.Error("LoginsInitiatedTotal is nil")
		}
		if metrics.CallbacksTotal == nil {
			t.Error("CallbacksTotal is nil")
		}
		if metrics.ValidationRunsTotal == nil {
			t.Error("ValidationRunsTotal is nil")
		}
		if metrics.ReplayRejectionsTotal == nil {
			t.Error("ReplayRejectionsTotal is nil")
		}

		// Verify replay guard metrics are initialized
		if metrics.ReplayChecksTotal == nil {
			t.Error("ReplayChecksTotal is nil")
		}
		if metrics.ReplayCheckDuration == nil {
			t.Error("ReplayCheckDuration is nil")
		}
		if metrics.ReplayEntriesSweptTotal == nil {
			t.Error("ReplayEntriesSweptTotal is nil")
		}

		// Verify credential cache metrics are initialized
		if metrics.CredentialCacheHitsTotal == nil {
			t.Error("CredentialCacheHitsTotal is nil")
		}
		if metrics.CredentialCacheMissesTotal == nil {
			t.Error("CredentialCacheMissesTotal is nil")
		}

		// Verify backend metrics are initialized
		if metrics.DBConnectionsActive == nil {
			t.Error("DBConnectionsActive is nil")
		}
		if metrics.DBConnectionsIdle == nil {
			t.Error("DBConnectionsIdle is nil")
		}
		if metrics.RedisConnectionsActive == nil {
			t.Error("RedisConnectionsActive is nil")
		}
		if metrics.ConfigReloadsTotal == nil {
			t.Error("ConfigReloadsTotal is nil")
		}
	})

	t.Run("metrics are registered with registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		// Initialize some metrics to make them appear in Gather()
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Add(0)
		metrics.LoginsInitiatedTotal.Add(0)
		metrics.CallbacksTotal.WithLabelValues("success").Add(0)
		metrics.ReplayChecksTotal.WithLabelValues("memory", "new").Add(0)
		metrics.CredentialCacheHitsTotal.WithLabelValues("certificate").Add(0)
		metrics.DBConnectionsActive.Set(0)
		metrics.RedisConnectionsActive.Set(0)

		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Failed to gather metrics: %v", err)
		}
		if len(families) == 0 {
			t.Error("No metrics registered in registry")
		}

		metricNames := make(map[string]bool)
		for _, family := range families {
			metricNames[family.GetName()] = true
		}
		for _, name := range []string{
			"samlgate_http_requests_total",
			"samlgate_logins_initiated_total",
			"samlgate_callbacks_total",
			"samlgate_replay_checks_total",
			"samlgate_credential_cache_hits_total",
			"samlgate_db_connections_active",
			"samlgate_redis_connections_active",
		} {
			if !metricNames[name] {
				t.Errorf("Metric %s not registered", name)
			}
		}
	})
}

func TestAuthenticationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.LoginsInitiatedTotal.Inc()
	metrics.LoginsInitiatedTotal.Inc()
	metrics.CallbacksTotal.WithLabelValues("success").Inc()
	metrics.CallbacksTotal.WithLabelValues("failure").Inc()
	metrics.ReplayRejectionsTotal.Inc()
	metrics.ValidationRunsTotal.WithLabelValues("error").Inc()

	if got := testutil.ToFloat64(metrics.LoginsInitiatedTotal); got != 2 {
		t.Errorf("LoginsInitiatedTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CallbacksTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("CallbacksTotal{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ReplayRejectionsTotal); got != 1 {
		t.Errorf("ReplayRejectionsTotal = %v, want 1", got)
	}

	expected := `
# HELP samlgate_validation_runs_total Total number of admin validation runs
# TYPE samlgate_validation_runs_total counter
samlgate_validation_runs_total{status="error"} 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "samlgate_validation_runs_total"); err != nil {
		t.Errorf("Unexpected validation metrics: %v", err)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest("GET", "/auth/saml/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/auth/saml/login", "418"))
	if got != 1 {
		t.Errorf("HTTPRequestsTotal = %v, want 1", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.LoginsInitiatedTotal.Inc()

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "samlgate_logins_initiated_total 1") {
		t.Error("metrics endpoint missing samlgate_logins_initiated_total")
	}
}

func TestSamplePoolStats(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	metrics.SamplePoolStats(db, nil)

	stats := db.Stats()
	if got := testutil.ToFloat64(metrics.DBConnectionsActive); got != float64(stats.InUse) {
		t.Errorf("DBConnectionsActive = %v, want %v", got, stats.InUse)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsIdle); got != float64(stats.Idle) {
		t.Errorf("DBConnectionsIdle = %v, want %v", got, stats.Idle)
	}

	// Nil handles must be a no-op, not a panic.
	metrics.SamplePoolStats(nil, nil)
}

func TestSamplePoolStatsRedis(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	metrics.SamplePoolStats(nil, client)
	if got := testutil.ToFloat64(metrics.RedisConnectionsActive); got < 1 {
		t.Errorf("RedisConnectionsActive = %v, want at least 1", got)
	}
}
