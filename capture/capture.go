// Package capture computes the capture set of a closure: the free variables
// and resource bundles its body needs in order to evaluate correctly away
// from the scope it was written in.
package capture

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/seantiz/scatter/closure"
)

// Mode selects how aggressively discovery searches for free variables.
type Mode string

const (
	// ModeExplicit captures only the explicitly exported names; the closure
	// body is never walked. Fastest, least safe: a missed export surfaces
	// as an unresolved-variable failure at evaluation time.
	ModeExplicit Mode = "explicit"

	// ModeExplicitLocal walks the body but resolves free names against the
	// innermost frame only, merged with the explicit exports.
	ModeExplicitLocal Mode = "explicit-local"

	// ModeExplicitAuto walks the body and resolves free names against the
	// full frame chain, merged with the explicit exports. The default.
	ModeExplicitAuto Mode = "explicit-auto"

	// ModeExplicitAutoWarn behaves like ModeExplicitAuto and additionally
	// logs names found by the walk that the caller did not declare, to help
	// tighten explicit export lists.
	ModeExplicitAutoWarn Mode = "explicit-auto-warn"
)

// DefaultBuiltins is the set of names discovery treats as ambiently
// available: they are never captured and never unresolved.
var DefaultBuiltins = map[string]bool{
	"add": true, "sub": true, "mul": true, "div": true,
	"len": true, "min": true, "max": true, "sum": true,
	"cat": true, "identity": true,
}

// DiscoveryError reports free variables that could not be resolved in any
// enclosing frame, the explicit exports, or the builtin set.
type DiscoveryError struct {
	Names []string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("capture: unresolved variables: %s", strings.Join(e.Names, ", "))
}

// Set is the resolved capture set for one engine invocation: the variable
// values a closure carries to the backend, plus the identifiers of the
// resource bundles that must be replicated there. A Set is computed once and
// shared read-only across all work items; nothing mutates it after Discover
// returns.
type Set struct {
	Vars     closure.Bindings
	Packages []string
}

// Options configures discovery.
type Options struct {
	Mode     Mode
	Exports  []string
	Packages []string
	Builtins map[string]bool // nil means DefaultBuiltins
	Logger   *slog.Logger    // used by ModeExplicitAutoWarn; nil means slog.Default

	// Lenient skips free references the walk cannot resolve instead of
	// failing discovery. Explicit exports still have to resolve. The
	// unresolved name then fails the item at evaluation time, if the
	// closure actually reads it.
	Lenient bool
}

// Discover computes the capture set for cl given the materialized enclosing
// scope. Explicit exports are always resolved and captured; the automatic
// modes additionally walk the body for free references. Unless Lenient is
// set, an unresolved name fails discovery in every mode except ModeExplicit,
// which defers missing-variable detection to evaluation time.
//
// The result is deterministic for a fixed closure and scope snapshot:
// variable resolution order follows the frame chain and package identifiers
// are sorted.
func Discover(cl *closure.Closure, scope *closure.Scope, opts Options) (*Set, error) {
	if scope == nil {
		scope = &closure.Scope{}
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeExplicitAuto
	}
	builtins := opts.Builtins
	if builtins == nil {
		builtins = DefaultBuiltins
	}

	set := &Set{Vars: make(closure.Bindings)}

	// Explicit exports resolve in every mode. A name the caller asserts must
	// travel with the closure has to exist somewhere.
	var unresolved []string
	for _, name := range opts.Exports {
		v, ok := scope.Lookup(name)
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}
		set.Vars[name] = v
	}

	if mode != ModeExplicit {
		lookupScope := scope
		if mode == ModeExplicitLocal {
			lookupScope = scope.Innermost()
		}

		var undeclared []string
		for _, name := range closure.FreeRefs(cl.Body, cl.Params) {
			if builtins[name] {
				continue
			}
			if _, done := set.Vars[name]; done {
				continue
			}
			v, ok := lookupScope.Lookup(name)
			if !ok {
				if !opts.Lenient {
					unresolved = append(unresolved, name)
				}
				continue
			}
			set.Vars[name] = v
			undeclared = append(undeclared, name)
		}

		if mode == ModeExplicitAutoWarn && len(undeclared) > 0 {
			logger := opts.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("capture: variables discovered but not explicitly exported",
				"names", undeclared,
			)
		}
	}

	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, &DiscoveryError{Names: unresolved}
	}

	set.Packages = mergePackages(opts.Packages, scope.Attached)
	return set, nil
}

// mergePackages unions the explicit and ambient resource-bundle identifiers,
// deduplicated and sorted for a stable capture set.
func mergePackages(explicit, attached []string) []string {
	seen := make(map[string]bool, len(explicit)+len(attached))
	var out []string
	for _, id := range explicit {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range attached {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
