// Package httpserver runs an HTTP handler with graceful shutdown and
// provides liveness and readiness handlers.
//
// Run blocks until the context is cancelled, SIGINT or SIGTERM is received,
// or Shutdown is called, and then drains in-flight requests within the
// configured shutdown timeout:
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("http server failed", logger.Error(err))
//	}
//
// HealthCheckHandler without checks is a liveness probe. With checks it runs
// each named probe and reports a JSON breakdown, answering 503 when any
// probe fails.
package httpserver
