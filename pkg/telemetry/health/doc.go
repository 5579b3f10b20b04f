// Package health exposes storage instance health over HTTP.
//
// # Endpoints
//
//   - /health: liveness, 200 while the process serves requests
//   - /ready: readiness, aggregated from every storage instance
//   - /version: build information
//
// Readiness is "ready" when every instance is healthy, "degraded" (still 200)
// when a background worker of some instance has failed, and "unhealthy"
// (503) when an instance cannot be reached or does not answer within the
// checker timeout.
//
// # Usage
//
//	f := factory.New(factory.WithLogger(logger))
//	if err := f.LoadFromConfig(ctx, &cfg.Storage); err != nil {
//		return err
//	}
//	mux := http.NewServeMux()
//	health.Register(mux, health.New(f, 5*time.Second), health.VersionInfo{Version: version})
package health
