// Package grpc serves the standard gRPC health protocol, reporting the
// worker pool's health under the canvas.Worker service and the empty
// service name.
package grpc
