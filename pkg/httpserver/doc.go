// Package httpserver runs the meter HTTP API with graceful shutdown and
// exposes liveness and readiness probes.
//
// Run blocks until the context is cancelled or the process receives SIGINT or
// SIGTERM, then drains in-flight requests within the shutdown timeout:
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Readiness runs every Check with a per-check deadline and answers 503 as soon
// as one of them fails, so load balancers stop routing to a replica whose
// counter store is unreachable.
package httpserver
