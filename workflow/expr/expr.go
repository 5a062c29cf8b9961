// Package expr parses custom edge conditions. Conditions are evaluated by the
// execution service; this package checks their syntax and reports the agent
// outputs they read.
//
// Grammar:
//
//	or      := and ("||" and)*
//	and     := compare ("&&" compare)*
//	compare := unary (("=="|"!="|">"|"<"|">="|"<=") unary)?
//	unary   := "!" unary | primary
//	primary := number | string | "true" | "false" | path | "(" or ")"
//
// A path is a dot-separated identifier such as researcher.output.score whose
// first segment names an agent.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a compiled condition. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// Compile parses src. An empty or blank source is an error.
func Compile(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("unexpected token %q at offset %d", t.text, t.offset)
	}
	return &Expr{src: src, root: root}, nil
}

// String returns the trimmed source.
func (e *Expr) String() string { return e.src }

// Paths lists the variable paths referenced by the expression, in source order,
// without duplicates.
func (e *Expr) Paths() []string {
	var out []string
	seen := make(map[string]bool)
	e.root.walk(func(n node) {
		if v, ok := n.(pathNode); ok && !seen[string(v)] {
			seen[string(v)] = true
			out = append(out, string(v))
		}
	})
	return out
}

// Roots lists the first segment of every path, in source order, without
// duplicates.
func (e *Expr) Roots() []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range e.Paths() {
		root, _, _ := strings.Cut(p, ".")
		if !seen[root] {
			seen[root] = true
			out = append(out, root)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

type node interface {
	walk(fn func(node))
}

type literalNode struct{ value any }

func (n literalNode) walk(fn func(node)) { fn(n) }

type pathNode string

func (n pathNode) walk(fn func(node)) { fn(n) }

type notNode struct{ operand node }

func (n notNode) walk(fn func(node)) {
	fn(n)
	n.operand.walk(fn)
}

type binaryNode struct {
	op          string
	left, right node
}

func (n binaryNode) walk(fn func(node)) {
	fn(n)
	n.left.walk(fn)
	n.right.walk(fn)
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)

	for i := 0; i < len(runes); {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++

		case ch == '(' || ch == ')':
			kind := tokLParen
			if ch == ')' {
				kind = tokRParen
			}
			tokens = append(tokens, token{kind, string(ch), i})
			i++

		case ch == '"' || ch == '\'':
			s, next, err := scanString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, s, i})
			i = next

		case i+1 < len(runes) && isTwoCharOp(string(runes[i:i+2])):
			tokens = append(tokens, token{tokOp, string(runes[i : i+2]), i})
			i += 2

		case ch == '>' || ch == '<' || ch == '!':
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++

		case isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && operandExpected(tokens)):
			start := i
			i++
			for i < len(runes) && (isDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokNumber, string(runes[start:i]), start})

		case unicode.IsLetter(ch) || ch == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.' || runes[i] == '-') {
				i++
			}
			text := string(runes[start:i])
			if strings.HasSuffix(text, ".") || strings.Contains(text, "..") {
				return nil, fmt.Errorf("malformed path %q at offset %d", text, start)
			}
			tokens = append(tokens, token{tokIdent, text, start})

		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", string(ch), i)
		}
	}
	return tokens, nil
}

func scanString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var sb strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch {
		case runes[i] == '\\' && i+1 < len(runes):
			i++
			sb.WriteRune(runes[i])
		case runes[i] == quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(runes[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string at offset %d", start)
}

func isTwoCharOp(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", "&&", "||":
		return true
	}
	return false
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

// operandExpected reports whether a leading '-' starts a negative number.
func operandExpected(prev []token) bool {
	if len(prev) == 0 {
		return true
	}
	last := prev[len(prev)-1]
	return last.kind == tokOp || last.kind == tokLParen
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", ">=", "<=", ">", "<")
	if !ok {
		return left, nil
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return binaryNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.acceptOp("!"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	p.pos++

	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", t.text, t.offset)
		}
		return literalNode{f}, nil
	case tokString:
		return literalNode{t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literalNode{true}, nil
		case "false":
			return literalNode{false}, nil
		case "null", "nil":
			return literalNode{nil}, nil
		}
		return pathNode(t.text), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.peek(); c == nil || c.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis for offset %d", t.offset)
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q at offset %d", t.text, t.offset)
	}
}
