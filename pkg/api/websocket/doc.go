// Package websocket provides live task record streaming via WebSocket.
//
// Clients can connect to /api/v1/tasks/:id/ws to receive every new view
// of a task record until it finishes.
package websocket
