// Package server accepts client WebSocket connections, hands each one to a
// session, and serves the monitoring endpoints.
package server
