// Package ws implements the websocket push channel for the dashboard.
//
// Hub manages connected clients. On connect a client immediately receives a
// snapshot; afterwards the hub broadcasts a snapshot every interval and a
// progress message whenever the collection progress changes.
//
// Message format sent to clients:
//
//	{"event": "snapshot", "data": {"progress": {...}, "analysis": {...}|null, "generated_at": "..."}}
//	{"event": "progress", "data": {...}}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy. The server mounts the hub at /ws/stream.
package ws
