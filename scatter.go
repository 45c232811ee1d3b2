package scatter

import (
	"context"

	"github.com/seantiz/scatter/closure"
	"github.com/seantiz/scatter/engine"
	"github.com/seantiz/scatter/plan"
)

// Apply evaluates cl once per value, binding each value to param, and
// returns the ordered results. Options.Backend defaults to the process-wide
// plan.
func Apply(ctx context.Context, param string, values []any, cl *closure.Closure, opts engine.Options) (any, error) {
	items := make([]closure.Bindings, len(values))
	for i, v := range values {
		items[i] = closure.Bindings{param: v}
	}
	return Run(ctx, items, cl, opts)
}

// Run evaluates cl once per item bindings and returns the reduced aggregate.
// It is engine.Run with the plan default filled in.
func Run(ctx context.Context, items []closure.Bindings, cl *closure.Closure, opts engine.Options) (any, error) {
	if opts.Backend == nil {
		opts.Backend = plan.Default()
	}
	eng := engine.New(nil, nil)
	return eng.Run(ctx, items, cl, opts)
}
