// Package closure represents a parallel loop body in a form the rest of the
// system can reason about: an executable function paired with an expression
// tree describing the variables it reads, and an explicit materialization of
// the enclosing lexical scope as an ordered list of frame snapshots.
package closure
