// Package task holds the task registry and the handler calling convention.
//
// A handler receives the adapted positional and keyword arguments of one
// invocation together with a *Context. Argument adaptation ("unwrap") is done
// by the executor according to the policy the task was registered with, so
// handlers never inspect the raw call shape themselves.
package task
