// Package expr implements the BRANCH condition language.
//
// An expression is either the literal token "default" (always true) or a
// single comparison "<left> <op> <right>" with op one of
// ==, !=, >=, <=, >, <, in, contains, startswith.
//
// Operands are classified in order: quoted literal, dot-path rooted at
// payload, vars or config, number, bare word. Evaluation is fail-closed: a
// parse error, a type mismatch or an unresolved path yields false.
package expr
