/*
Package servers runs the registry HTTP API.

Server wraps an http.Server with:

  - access logging through httplogger
  - caller resolution through callerauth
  - /livez, /readyz, /drain and /undrain for load balancer integration
  - optional pprof under /debug
  - a separate Prometheus metrics listener

Usage:

	srv, err := servers.New(cfg, handler, resolver, metricsSrv)
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package servers
