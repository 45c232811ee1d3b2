package backend

import (
	"context"

	"github.com/seantiz/scatter/capture"
	"github.com/seantiz/scatter/closure"
)

// Backend is the interface every execution backend must implement. Each
// backend (in-process pool, forked processes, remote cluster, batch
// scheduler) provides its own transport behind the same asynchronous handle
// contract.
type Backend interface {
	// Submit hands one work item to the backend and returns a handle for
	// its eventual result. Submit must not block on the item's evaluation;
	// a backend that cannot accept the item returns an error instead.
	Submit(ctx context.Context, inv Invocation) (Handle, error)

	// Capabilities reports the backend's name and concurrency limit.
	Capabilities() Capabilities
}

// Handle is one outstanding unit of work.
type Handle interface {
	// Poll reports whether the item has reached a terminal state.
	Poll() bool

	// Await blocks until the item resolves and returns its value or
	// evaluation failure. The context bounds the wait, not the evaluation.
	Await(ctx context.Context) (any, error)

	// Cancel asks the backend to abandon the item. Best effort: backends
	// that cannot interrupt in-flight work may ignore it.
	Cancel()
}

// Invocation describes one work item: the shared closure, the capture set
// computed once for the whole run, and this item's iteration bindings.
// Captures is shared read-only across every invocation of a run; backends
// must not mutate it. Bindings shadow captured variables of the same name.
type Invocation struct {
	RunID    string
	Index    int
	Closure  *closure.Closure
	Captures *capture.Set
	Bindings closure.Bindings
}

// Vars returns the merged variable bundle for this invocation: captured
// variables overlaid with the item's iteration bindings.
func (inv Invocation) Vars() closure.Bindings {
	var base closure.Bindings
	if inv.Captures != nil {
		base = inv.Captures.Vars
	}
	return closure.Merged(base, inv.Bindings)
}

// Capabilities describes a backend.
type Capabilities struct {
	Name string `json:"name"`

	// MaxConcurrency is the number of items the backend can evaluate at
	// once. 0 means the backend imposes no limit of its own.
	MaxConcurrency int `json:"max_concurrency"`
}
