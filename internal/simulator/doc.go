// Package simulator serves a stand-in for the remote patients API.
//
// The dataset is generated from a seed, so two simulators with the same
// options serve identical records. A share of the records carries missing
// or garbled vitals. The server paginates GET /patients with the same
// envelope as the real API, optionally enforces an x-api-key header,
// answers every Nth request with 429 and retry_after, fails a configurable
// share of requests with 500/503, and grades POST /submit-assessment against
// the alert lists computed from its own records.
package simulator
