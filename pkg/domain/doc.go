// Package domain holds the task record model shared by every component:
// record states, captured task errors and the error taxonomy of the
// orchestration core.
package domain
