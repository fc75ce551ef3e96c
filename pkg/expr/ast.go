package expr

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGe
	OpLe
	OpGt
	OpLt
	OpIn
	OpContains
	OpStartsWith
)

var opNames = map[string]Op{
	"==": OpEq, "!=": OpNe, ">=": OpGe, "<=": OpLe, ">": OpGt, "<": OpLt,
	"in": OpIn, "contains": OpContains, "startswith": OpStartsWith,
}

func (o Op) String() string {
	for k, v := range opNames {
		if v == o {
			return k
		}
	}
	return "?"
}

// OperandKind tags the Operand sum type.
type OperandKind int

const (
	// Literal is a quoted string.
	Literal OperandKind = iota
	// Path is a dot-path into the evaluation context.
	Path
	// Number is a numeric constant.
	Number
	// Bare is an unquoted word that is neither a path nor a number.
	Bare
)

// Operand is one side of a comparison.
type Operand struct {
	Kind OperandKind
	Text string
	Num  float64
}

// Resolver resolves dot-paths. domain.EvalContext implements it.
type Resolver interface {
	Lookup(path string) (any, bool)
}

var (
	numberRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
	pathRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*(\.[A-Za-z0-9_-]+)*$`)
)

func isScopeRoot(s string) bool {
	return s == domain.ScopePayload || s == domain.ScopeVars || s == domain.ScopeConfig
}

// classify turns an unquoted word into a Path, Number or Bare operand.
func classify(word string) Operand {
	if pathRe.MatchString(word) {
		root, _, _ := strings.Cut(word, ".")
		if isScopeRoot(root) {
			return Operand{Kind: Path, Text: word}
		}
	}
	if numberRe.MatchString(word) {
		if f, err := strconv.ParseFloat(word, 64); err == nil {
			return Operand{Kind: Number, Text: word, Num: f}
		}
	}
	return Operand{Kind: Bare, Text: word}
}

// value returns the runtime value of the operand. ok is false when a path
// does not resolve or resolves to null.
func (o Operand) value(r Resolver) (any, bool) {
	switch o.Kind {
	case Literal, Bare:
		return o.Text, true
	case Number:
		return o.Num, true
	case Path:
		if r == nil {
			return nil, false
		}
		v, ok := r.Lookup(o.Text)
		if !ok || v == nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

// Expr is a compiled condition.
type Expr struct {
	Source  string
	Default bool
	Left    Operand
	Op      Op
	Right   Operand
}

// Paths lists the dot-paths the expression reads.
func (e *Expr) Paths() []string {
	var out []string
	for _, o := range []Operand{e.Left, e.Right} {
		if o.Kind == Path {
			out = append(out, o.Text)
		}
	}
	return out
}
