// Package store keeps recent collection reports in memory.
//
// The most recent report is served until it is older than the staleness
// window, after which IsStale reports true and the monitor starts a new
// collection. Older reports are kept in a bounded LRU history and evicted by
// Run once they fall outside the window. Nothing is written to disk.
package store
