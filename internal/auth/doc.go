// Package auth provides API key middleware for the patientwatch HTTP
// servers.
//
// APIKey(mode, header, key) returns an echo middleware that validates the
// key from the named request header. When mode != "apikey" or key == "",
// every request passes through (useful for local development with auth
// disabled). A missing or incorrect key yields 401 with a JSON error body.
//
// The dashboard API and the simulator both use it.
package auth
