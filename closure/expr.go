package closure

// Expr is one node in the static description of a closure body. The tree is
// deliberately small: it only has to carry enough structure for dependency
// discovery to tell variable reads from local definitions, including inside
// nested function literals.
type Expr interface {
	isExpr()
}

// Ref is a read of the variable with the given name.
type Ref struct {
	Name string
}

// Lit is a literal value; it references nothing.
type Lit struct {
	Value any
}

// Call applies a named function to its arguments. The function name itself
// resolves like any other reference, so user-defined functions are captured
// while builtins are skipped by discovery.
type Call struct {
	Fn   string
	Args []Expr
}

// Assign introduces a local binding. The value expression is walked before
// the name becomes bound, so `x = f(x)` still reads the enclosing x.
type Assign struct {
	Name  string
	Value Expr
}

// Lambda is a nested function literal. Its parameters are bound only within
// its own body; anything else the body reads is free in the enclosing
// closure too.
type Lambda struct {
	Params []string
	Body   []Expr
}

// Block is a sequence of expressions sharing one local scope.
type Block struct {
	Exprs []Expr
}

func (Ref) isExpr()    {}
func (Lit) isExpr()    {}
func (Call) isExpr()   {}
func (Assign) isExpr() {}
func (Lambda) isExpr() {}
func (Block) isExpr()  {}

// FreeRefs walks the body and returns the names read but not locally bound,
// in first-read order. bound seeds the local scope (typically the closure's
// iteration parameters).
func FreeRefs(body Expr, bound []string) []string {
	w := &refWalker{locals: []map[string]bool{newScope(bound)}}
	w.walk(body)
	return w.free
}

type refWalker struct {
	locals []map[string]bool
	free   []string
	seen   map[string]bool
}

func newScope(names []string) map[string]bool {
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

func (w *refWalker) isLocal(name string) bool {
	for i := len(w.locals) - 1; i >= 0; i-- {
		if w.locals[i][name] {
			return true
		}
	}
	return false
}

func (w *refWalker) record(name string) {
	if w.isLocal(name) {
		return
	}
	if w.seen == nil {
		w.seen = make(map[string]bool)
	}
	if w.seen[name] {
		return
	}
	w.seen[name] = true
	w.free = append(w.free, name)
}

// deref unwraps pointer nodes so the walk sees one representation per node
// kind. The pointer forms satisfy Expr through the value-receiver marker
// methods, so callers may build trees either way.
func deref(e Expr) Expr {
	switch p := e.(type) {
	case *Ref:
		if p == nil {
			return nil
		}
		return *p
	case *Lit:
		if p == nil {
			return nil
		}
		return *p
	case *Call:
		if p == nil {
			return nil
		}
		return *p
	case *Assign:
		if p == nil {
			return nil
		}
		return *p
	case *Lambda:
		if p == nil {
			return nil
		}
		return *p
	case *Block:
		if p == nil {
			return nil
		}
		return *p
	}
	return e
}

func (w *refWalker) walk(e Expr) {
	switch n := deref(e).(type) {
	case nil:
	case Ref:
		w.record(n.Name)
	case Lit:
	case Call:
		w.record(n.Fn)
		for _, a := range n.Args {
			w.walk(a)
		}
	case Assign:
		// Value first: the assigned name is not bound while computing it.
		w.walk(n.Value)
		w.locals[len(w.locals)-1][n.Name] = true
	case Lambda:
		w.locals = append(w.locals, newScope(n.Params))
		for _, b := range n.Body {
			w.walk(b)
		}
		w.locals = w.locals[:len(w.locals)-1]
	case Block:
		for _, b := range n.Exprs {
			w.walk(b)
		}
	}
}
