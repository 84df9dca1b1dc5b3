// Package tasks holds the built-in task sets registered by the worker
// daemon: local arithmetic, arithmetic over the math API, the document
// pipeline, list and word-count fan-out tasks and llm.complete.
package tasks
