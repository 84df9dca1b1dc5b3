// Package canvas describes task graphs.
//
// A graph is built from four node kinds:
//   - *Signature: a single task invocation
//   - *Chain: sequential steps, each step's result feeds the next step
//   - *Group: concurrent members whose results are collected in submission order
//   - *Chord: a group header whose ordered results feed a body node
//
// Nodes are plain values. Builders never share containers between the nodes
// they return, so a template signature can be cloned into many group members
// without aliasing.
//
// Example:
//
//	graph := canvas.Then(
//	    canvas.NewChord(
//	        canvas.NewGroup(canvas.Sig("add", 1, 2), canvas.Sig("divide", 10, 5)),
//	        canvas.Sig("multiply"),
//	    ),
//	    canvas.Sig("subtract", 10),
//	)
package canvas
