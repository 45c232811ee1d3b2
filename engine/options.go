package engine

import (
	"github.com/seantiz/scatter/backend"
	"github.com/seantiz/scatter/capture"
	"github.com/seantiz/scatter/closure"
)

// ErrorPolicy decides what Run does when one or more items fail.
type ErrorPolicy int

const (
	// RaiseFirst returns a MultiItemError whose primary detail is the
	// lowest-index failure, as a synchronous loop would have reported.
	// Every item still runs to a terminal state first.
	RaiseFirst ErrorPolicy = iota

	// ContinueOnError places *ItemError markers in the failed slots and
	// returns the aggregate without an error.
	ContinueOnError
)

// ReduceFunc folds the ordered per-item results into the final value. The
// input is always in original item order, regardless of completion order.
type ReduceFunc func(results []any) (any, error)

// Options configures one engine invocation.
type Options struct {
	// Backend executes the items. Nil means the process-wide default plan.
	Backend backend.Backend

	// Scope is the materialized enclosing-scope chain at the call site,
	// used by dependency discovery. Nil means an empty scope.
	Scope *closure.Scope

	// Concurrency caps the number of outstanding handles. 0 defers to the
	// backend's own limit; if the backend reports none either, all items
	// are submitted at once.
	Concurrency int

	// Mode, Exports, Packages, Builtins, and Lenient configure dependency
	// discovery; see the capture package.
	Mode     capture.Mode
	Exports  []string
	Packages []string
	Builtins map[string]bool
	Lenient  bool

	// OnError selects failure escalation; the default is RaiseFirst.
	OnError ErrorPolicy

	// Reduce folds the ordered results. Nil collects them into a []any.
	Reduce ReduceFunc

	// RunID identifies the run in the store and event stream. Empty means
	// a generated ULID.
	RunID string
}

// effectiveCap resolves the outstanding-handle bound for a run of n items.
func effectiveCap(opts Options, caps backend.Capabilities, n int) int {
	limit := opts.Concurrency
	if limit <= 0 || (caps.MaxConcurrency > 0 && caps.MaxConcurrency < limit) {
		limit = caps.MaxConcurrency
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}
