package closure

// Frame is one lexical frame: a snapshot of name→value pairs visible at the
// call site.
type Frame map[string]any

// Scope is the materialized enclosing-scope chain at the point the engine is
// invoked: frames ordered innermost first, plus the identifiers of the
// resource bundles (attached packages or similar ambient context) active at
// the call site.
type Scope struct {
	Frames   []Frame
	Attached []string
}

// NewScope builds a scope from frames ordered innermost first.
func NewScope(frames ...Frame) *Scope {
	return &Scope{Frames: frames}
}

// WithAttached returns s with the given resource-bundle identifiers recorded
// as active. The receiver is modified and returned for chaining.
func (s *Scope) WithAttached(ids ...string) *Scope {
	s.Attached = append(s.Attached, ids...)
	return s
}

// Lookup resolves name against the frame chain, innermost first. The second
// return reports whether any frame defines the name.
func (s *Scope) Lookup(name string) (any, bool) {
	for _, f := range s.Frames {
		if v, ok := f[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Innermost returns a scope restricted to the first frame, preserving the
// attached resource context. Used by the local-only discovery mode.
func (s *Scope) Innermost() *Scope {
	out := &Scope{Attached: s.Attached}
	if len(s.Frames) > 0 {
		out.Frames = s.Frames[:1]
	}
	return out
}
