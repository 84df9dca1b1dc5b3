// Package ports defines the interfaces the orchestration core depends on:
// the result store, the delivery broker and the metrics collector.
package ports
