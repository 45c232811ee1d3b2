package engine

import "fmt"

// Failure stages distinguish items that never reached the backend from ones
// whose evaluation failed there.
const (
	StageSubmit = "submit"
	StageEval   = "eval"
)

// ItemError is the failure of a single work item. Under ContinueOnError it
// also appears as the marker value occupying the item's result slot.
type ItemError struct {
	Index int
	Stage string
	Err   error
}

func (e *ItemError) Error() string {
	if e.Stage == StageSubmit {
		return fmt.Sprintf("item %d: submission failed: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// MultiItemError aggregates every failed item of a run. Its message reports
// the first failure by index, mirroring where a synchronous loop would have
// stopped, while Failures retains the rest.
type MultiItemError struct {
	Failures []*ItemError // ordered by item index
}

// First returns the lowest-index failure.
func (e *MultiItemError) First() *ItemError {
	return e.Failures[0]
}

// Indices returns the failing item indices in ascending order.
func (e *MultiItemError) Indices() []int {
	out := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Index
	}
	return out
}

func (e *MultiItemError) Error() string {
	first := e.First()
	if len(e.Failures) == 1 {
		return first.Error()
	}
	return fmt.Sprintf("%v (and %d more items failed)", first, len(e.Failures)-1)
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *MultiItemError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}
