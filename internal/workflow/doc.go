// Package workflow loads task graphs from YAML files.
//
// A file names the workflow and describes its graph with nested steps. A
// step is exactly one of task, chain, group or chord:
//
//	name: Math chain
//	timeout: 30s
//	graph:
//	  chain:
//	    - task: add
//	      args: [1, 2]
//	    - task: subtract
//	      args: [5]
//
// String values equal to ${ulid} are replaced with a fresh ULID when the
// file is loaded.
package workflow
