// Package orchestrator is the client side of the task graph core.
//
// The Manager validates a graph against the task registry, creates the root
// record, publishes the graph to the workers and returns a Handle. Handles
// read the outcome from the result store with a cooperative polling loop
// that follows replacement forwards, so a caller never needs to know that a
// task replaced itself with a sub-graph.
package orchestrator
