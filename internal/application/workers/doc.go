// Package workers executes task graphs.
//
// The Executor is the dispatch state machine: it invokes registered handlers
// for signatures, expands chains, groups and chords into member deliveries,
// and resumes the enclosing composite whenever a member finishes. Each
// delivery carries the continuation stack it needs, so any worker can pick
// up any part of any graph.
//
// The Pool runs a fixed number of workers that consume deliveries from the
// broker, and the HealthMonitor tracks their status and reports metrics.
package workers
