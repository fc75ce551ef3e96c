package expr

import "sync"

type compiled struct {
	expr *Expr
	err  error
}

// Flows are immutable, so the set of sources seen by a process is finite.
var cache sync.Map // map[string]compiled

// Compile parses src, memoizing the result by source text.
func Compile(src string) (*Expr, error) {
	if c, ok := cache.Load(src); ok {
		entry := c.(compiled)
		return entry.expr, entry.err
	}
	e, err := Parse(src)
	cache.Store(src, compiled{expr: e, err: err})
	return e, err
}

// Eval compiles and evaluates src against r. Malformed expressions are false.
func Eval(src string, r Resolver) bool {
	e, err := Compile(src)
	if err != nil {
		return false
	}
	return e.Eval(r)
}
