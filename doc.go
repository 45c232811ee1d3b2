// Package scatter dispatches the iterations of an independent loop to
// interchangeable execution backends and collates their results as if the
// loop had run sequentially.
//
// The heavy lifting lives in the subpackages: capture resolves the free
// variables and resource bundles a loop body must carry to a backend,
// engine submits items under a bounded outstanding-handle cap and collates
// completions back into input order, backend defines the asynchronous
// handle contract execution backends implement, and plan holds the
// process-wide default backend. This package is a thin convenience facade
// over engine.Run.
package scatter
