// Package broker provides delivery transports between dispatchers and
// workers.
//
// Implementations:
//   - redis: Redis Streams with consumer groups, acks after handling
//   - memory: in-process queues for tests and single-process runs
package broker
