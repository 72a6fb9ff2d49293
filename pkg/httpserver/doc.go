// Package httpserver runs the billing webhook endpoints with bounded timeouts
// and a graceful drain on context cancellation.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	err := srv.Run(ctx, router)
//
// LivenessHandler and ReadinessHandler back the health endpoints; readiness
// runs the named dependency checks (MongoDB, Redis) on every request.
package httpserver
