// Package api implements the control plane and the telemetry push listener
// of the SCADA hub.
//
// This package provides:
//   - GET /all, POST /controller/set and POST /controller/state
//   - GET /health with MQTT and database health checks
//   - A WebSocket hub that pushes every tick message to every connected client
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Listeners
//
// The control plane and the WebSocket endpoint listen on separate ports
// (8081 and 8080 by default), so telemetry clients never share a port with
// callers that change state.
//
// # Consistency
//
// Handlers reach controller state only through the injected Registry. A
// mutation is committed before its snapshot is queued for the persister,
// and the response never waits on storage.
package api
