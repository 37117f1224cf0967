/*
Package monitoring provides Prometheus metrics for the registry.

Each Metrics value owns a private registry, so several instances (one per
test, for example) can coexist in a process.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "registry", "commit")
	// ... perform operation ...
	timer.Stop("success")
*/
package monitoring
