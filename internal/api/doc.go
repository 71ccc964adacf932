// Package api implements the dashboard REST API.
//
// New(src, classifier, opts, log) returns an *echo.Echo that serves:
//
//	GET  /api/v1/health        monitor state, staleness, firing alert count
//	GET  /api/v1/progress      live collection progress
//	GET  /api/v1/analysis      alert lists + summary of the latest report; 503 until one exists
//	GET  /api/v1/alerts        the three alert lists only
//	GET  /api/v1/patients/:id  per-patient breakdown with diagnostic hints; 404 if unknown
//	GET  /api/v1/reports       retained report summaries, newest first
//	GET  /api/v1/rules         firing and recently resolved rule alerts
//	GET  /api/v1/upstream      TLS certificate status of the patients API
//	POST /api/v1/refresh       request a new collection; 202, or 409 if one is pending
//	GET  /metrics              Prometheus exposition
//
// All endpoints respond with JSON; failures carry {"error": msg}.
// JSON types are defined in types.go.
package api
