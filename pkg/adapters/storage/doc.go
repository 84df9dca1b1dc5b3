// Package storage provides result store implementations and the polling
// loop clients use to wait on a record.
//
// Implementations:
//   - memory: mutex-guarded map, for tests and single-process runs
//   - redis: JSON records with WATCH/MULTI compare-and-set and TTL after completion
//   - sqlite: durable records with a version column compare-and-set
package storage
