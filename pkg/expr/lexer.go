package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// SyntaxError describes where an expression failed to lex or parse.
type SyntaxError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: %s at offset %d in %q", e.Msg, e.Pos, e.Source)
}

var wordOps = map[string]bool{"in": true, "contains": true, "startswith": true}

func isOpChar(r byte) bool {
	return r == '=' || r == '!' || r == '<' || r == '>'
}

// lex splits src into words, quoted strings and operators. The first
// operator ends the left operand.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++

		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, &SyntaxError{Source: src, Pos: i, Msg: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: src[i+1 : i+1+end], pos: i})
			i += end + 2

		case isOpChar(c):
			start := i
			for i < len(src) && isOpChar(src[i]) {
				i++
			}
			op := src[start:i]
			switch op {
			case "==", "!=", ">=", "<=", ">", "<":
			default:
				return nil, &SyntaxError{Source: src, Pos: start, Msg: fmt.Sprintf("unknown operator %q", op)}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: start})
			return append(toks, lexRight(src, i)...), nil

		default:
			start := i
			for i < len(src) && !unicode.IsSpace(rune(src[i])) && !isOpChar(src[i]) && src[i] != '\'' && src[i] != '"' {
				i++
			}
			w := src[start:i]
			if wordOps[w] {
				toks = append(toks, token{kind: tokOp, text: w, pos: start})
				return append(toks, lexRight(src, i)...), nil
			}
			toks = append(toks, token{kind: tokWord, text: w, pos: start})
		}
	}
	return toks, nil
}

// lexRight tokenizes everything after the operator as the right operand.
// Operator characters and quotes there are plain text, so "hi!" or "a=b"
// compare as written. Only a fully quoted remainder becomes a string.
func lexRight(src string, from int) []token {
	rest := strings.TrimSpace(src[from:])
	if rest == "" {
		return nil
	}
	pos := from + strings.Index(src[from:], rest)
	if n := len(rest); n >= 2 && (rest[0] == '\'' || rest[0] == '"') && rest[n-1] == rest[0] &&
		strings.IndexByte(rest[1:n-1], rest[0]) < 0 {
		return []token{{kind: tokString, text: rest[1 : n-1], pos: pos}}
	}
	var toks []token
	for _, w := range strings.Fields(rest) {
		toks = append(toks, token{kind: tokWord, text: w, pos: pos})
	}
	return toks
}
