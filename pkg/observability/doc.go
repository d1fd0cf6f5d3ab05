// Package observability provides Prometheus metrics, health probes,
// panic recovery, and graceful shutdown for the samlgate server.
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.LoginsInitiatedTotal.Inc()
//	metrics.CallbacksTotal.WithLabelValues("success").Inc()
//
// # Health Checks
//
// Configure probes over the replay backends:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Graceful Shutdown
//
//	shutdown := observability.NewShutdownManager(log, server, 30*time.Second)
//	shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return db.Close() })
//	err := shutdown.WaitForShutdown()
//
// # Related Packages
//
//   - pkg/config: Server and storage configuration
//   - pkg/replay: the guards whose backends the health probes cover
package observability
