package expr

import (
	"strings"
)

// Parse compiles src into an Expr without consulting the cache.
func Parse(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	if strings.EqualFold(trimmed, "default") {
		return &Expr{Source: src, Default: true}, nil
	}

	toks, err := lex(trimmed)
	if err != nil {
		return nil, err
	}

	opIdx := -1
	for i, t := range toks {
		if t.kind == tokOp {
			opIdx = i
			break
		}
	}
	if opIdx < 0 {
		return nil, &SyntaxError{Source: src, Pos: 0, Msg: "missing operator"}
	}

	left, err := operand(src, toks[:opIdx])
	if err != nil {
		return nil, err
	}
	right, err := operand(src, toks[opIdx+1:])
	if err != nil {
		return nil, err
	}

	return &Expr{
		Source: src,
		Left:   left,
		Op:     opNames[toks[opIdx].text],
		Right:  right,
	}, nil
}

// operand folds the tokens on one side of the operator. A single quoted
// string is a Literal; a single word is classified; several words form one
// Bare phrase.
func operand(src string, toks []token) (Operand, error) {
	switch len(toks) {
	case 0:
		return Operand{}, &SyntaxError{Source: src, Pos: len(src), Msg: "missing operand"}
	case 1:
		if toks[0].kind == tokString {
			return Operand{Kind: Literal, Text: toks[0].text}, nil
		}
		return classify(toks[0].text), nil
	}

	words := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.kind == tokString {
			return Operand{}, &SyntaxError{Source: src, Pos: t.pos, Msg: "unexpected string"}
		}
		words = append(words, t.text)
	}
	return Operand{Kind: Bare, Text: strings.Join(words, " ")}, nil
}
