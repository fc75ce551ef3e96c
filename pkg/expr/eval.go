package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Eval evaluates the expression. It never panics; any failure is false.
func (e *Expr) Eval(r Resolver) (result bool) {
	if e == nil {
		return false
	}
	if e.Default {
		return true
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = false
		}
	}()

	left, ok := e.Left.value(r)
	if !ok {
		return false
	}
	right, ok := e.Right.value(r)
	if !ok {
		return false
	}

	switch e.Op {
	case OpEq:
		return equal(left, right)
	case OpNe:
		return !equal(left, right)
	case OpGe, OpLe, OpGt, OpLt:
		return compare(e.Op, left, right)
	case OpIn:
		return in(left, right)
	case OpContains:
		l, ok := left.(string)
		if !ok {
			return false
		}
		rs, ok := scalarString(right)
		return ok && strings.Contains(l, rs)
	case OpStartsWith:
		l, lok := scalarString(left)
		rs, rok := scalarString(right)
		return lok && rok && strings.HasPrefix(l, rs)
	}
	return false
}

func compare(op Op, left, right any) bool {
	a, ok := toFloat(left)
	if !ok {
		return false
	}
	b, ok := toFloat(right)
	if !ok {
		return false
	}
	switch op {
	case OpGe:
		return a >= b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpLt:
		return a < b
	}
	return false
}

// equal compares numerically when both sides are numbers, structurally for
// collections and by string form otherwise.
func equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		x, _ := toFloat(a)
		y, _ := toFloat(b)
		return x == y
	}
	as, aok := scalarString(a)
	bs, bok := scalarString(b)
	if aok && bok {
		return as == bs
	}
	return reflect.DeepEqual(a, b)
}

func in(needle, haystack any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if equal(needle, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range h {
			if equal(needle, item) {
				return true
			}
		}
		return false
	case map[string]any:
		k, ok := scalarString(needle)
		if !ok {
			return false
		}
		_, found := h[k]
		return found
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case fmt.Stringer:
		return t.String(), true
	}
	if isNumber(v) {
		return domain.FormatValue(v), true
	}
	return "", false
}
