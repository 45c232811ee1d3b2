package closure

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnresolved is returned by Var when a name is missing from the variable
// bundle handed to a closure at evaluation time.
var ErrUnresolved = errors.New("unresolved variable")

// Bindings maps variable names to values. It is used both for per-item
// iteration bindings and for the merged variable bundle a backend hands to
// the closure function at evaluation time.
type Bindings map[string]any

// EvalFunc is the executable form of a closure body. It receives the merged
// variable bundle (captured variables overlaid with the item's iteration
// bindings) and returns the item's result.
type EvalFunc func(ctx context.Context, vars Bindings) (any, error)

// Closure pairs the executable loop body with a static description of it.
// Params names the iteration variables supplied per item; Body is the
// expression tree dependency discovery walks to find free variable
// references. Body describes what Fn reads — the engine never evaluates it.
type Closure struct {
	Params []string
	Body   Expr
	Fn     EvalFunc
}

// New creates a closure with the given iteration parameters, body
// description, and evaluation function.
func New(params []string, body Expr, fn EvalFunc) *Closure {
	return &Closure{Params: params, Body: body, Fn: fn}
}

// Var looks up name in vars, returning ErrUnresolved (wrapped with the name)
// when absent. Closure functions should use it for every variable they read
// so that a missing capture surfaces as a per-item evaluation failure rather
// than a silent zero value.
func Var(vars Bindings, name string) (any, error) {
	v, ok := vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolved, name)
	}
	return v, nil
}

// Merged returns a new bundle with overlay applied on top of base.
// Neither input is modified.
func Merged(base, overlay Bindings) Bindings {
	out := make(Bindings, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
