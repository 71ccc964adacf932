// Package types defines the wire and in-memory shapes shared by the
// collector, the risk engine and the dashboard surfaces.
//
// Patient fields that come from the remote API untrusted (age, blood
// pressure, temperature) are kept as decoded JSON values (nil, float64,
// string, ...) so the risk package can classify malformed input instead of
// failing the decode.
package types
