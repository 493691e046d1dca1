// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/pool/ws to receive real-time
// updates about instance lifecycle and job progress.
package websocket
