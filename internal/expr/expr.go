// Package expr implements the restricted arithmetic evaluator behind
// derived metrics. The accepted language is exactly: decimal literals,
// identifiers bound to pre-resolved scalars, unary minus, binary + - * /,
// and parentheses. Everything else is rejected before anything executes.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"datanerd/internal/errs"
)

const (
	// MaxLen bounds the raw formula length.
	MaxLen = 1000
	// MaxNodes bounds the parse tree size.
	MaxNodes = 100
)

// NodeKind discriminates parse tree nodes.
type NodeKind int

const (
	NodeLiteral NodeKind = iota
	NodeIdent
	NodeNeg
	NodeBinary
)

// Node is one vertex of the parse tree. Trees are immutable after Parse.
type Node struct {
	Kind  NodeKind
	Op    byte // one of + - * / for NodeBinary
	Lit   float64
	Name  string
	Left  *Node // operand for NodeNeg, left operand for NodeBinary
	Right *Node
}

// Vars returns the identifiers referenced by the tree in first-appearance
// order, deduplicated.
func (n *Node) Vars() []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*Node)
	walk = func(nd *Node) {
		if nd == nil {
			return
		}
		if nd.Kind == NodeIdent && !seen[nd.Name] {
			seen[nd.Name] = true
			out = append(out, nd.Name)
		}
		walk(nd.Left)
		walk(nd.Right)
	}
	walk(n)
	return out
}

// token kinds produced by the lexer.
type tokKind int

const (
	tokNumber tokKind = iota
	tokIdent
	tokOp    // + - * /
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokKind
	op   byte
	num  float64
	name string
	pos  int
}

// Parse lexes and parses src under the restricted grammar. Any disallowed
// token, malformed literal, or exceeded limit returns UnsafeExpression.
func Parse(src string) (*Node, error) {
	if len(src) > MaxLen {
		return nil, errs.Newf(errs.KindUnsafeExpression, "formula exceeds %d characters", MaxLen).
			WithHint("shorten the formula")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tk := p.peek(); tk.kind != tokEOF {
		return nil, unsafeAt(src, tk.pos, "unexpected trailing input")
	}
	return root, nil
}

// Eval computes the tree against pre-resolved scalar bindings. Division by
// zero yields the zero sentinel for that division; non-finite intermediate
// results are clamped to zero so the caller never observes NaN or Inf.
func Eval(n *Node, vars map[string]float64) (float64, error) {
	if n == nil {
		return 0, errs.New(errs.KindUnsafeExpression, "empty formula")
	}
	switch n.Kind {
	case NodeLiteral:
		return n.Lit, nil
	case NodeIdent:
		v, ok := vars[n.Name]
		if !ok {
			return 0, errs.Newf(errs.KindUnsafeExpression, "unbound identifier").WithValue(n.Name)
		}
		return v, nil
	case NodeNeg:
		v, err := Eval(n.Left, vars)
		if err != nil {
			return 0, err
		}
		return -v, nil
	case NodeBinary:
		l, err := Eval(n.Left, vars)
		if err != nil {
			return 0, err
		}
		r, err := Eval(n.Right, vars)
		if err != nil {
			return 0, err
		}
		var v float64
		switch n.Op {
		case '+':
			v = l + r
		case '-':
			v = l - r
		case '*':
			v = l * r
		case '/':
			if r == 0 {
				return 0, nil
			}
			v = l / r
		default:
			return 0, errs.Newf(errs.KindUnsafeExpression, "unknown operator").WithValue(string(n.Op))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, nil
		}
		return v, nil
	default:
		return 0, errs.New(errs.KindUnsafeExpression, "malformed tree")
	}
}

// EvalString is the parse-then-evaluate convenience used by tests and the
// catalog validator.
func EvalString(src string, vars map[string]float64) (float64, error) {
	n, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return Eval(n, vars)
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOp, op: c, pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c >= '0' && c <= '9':
			j := i
			seenDot := false
			for j < len(src) {
				d := src[j]
				if d >= '0' && d <= '9' {
					j++
					continue
				}
				if d == '.' && !seenDot {
					seenDot = true
					j++
					continue
				}
				break
			}
			lit := src[i:j]
			n, err := strconv.ParseFloat(lit, 64)
			if err != nil || math.IsInf(n, 0) {
				return nil, unsafeAt(src, i, "numeric literal out of range")
			}
			toks = append(toks, token{kind: tokNumber, num: n, pos: i})
			i = j
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			j := i + 1
			for j < len(src) {
				d := src[j]
				if d == '_' || (d >= 'a' && d <= 'z') || (d >= 'A' && d <= 'Z') || (d >= '0' && d <= '9') {
					j++
					continue
				}
				break
			}
			toks = append(toks, token{kind: tokIdent, name: src[i:j], pos: i})
			i = j
		default:
			return nil, unsafeAt(src, i, fmt.Sprintf("disallowed character %q", string(rune(c))))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

type parser struct {
	toks  []token
	pos   int
	nodes int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tk := p.toks[p.pos]
	if tk.kind != tokEOF {
		p.pos++
	}
	return tk
}

func (p *parser) newNode(n Node) (*Node, error) {
	p.nodes++
	if p.nodes > MaxNodes {
		return nil, errs.Newf(errs.KindUnsafeExpression, "formula exceeds %d nodes", MaxNodes).
			WithHint("split the metric into smaller derived metrics")
	}
	out := n
	return &out, nil
}

// parseExpr := parseTerm (('+' | '-') parseTerm)*
func (p *parser) parseExpr() (*Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tk := p.peek()
		if tk.kind != tokOp || (tk.op != '+' && tk.op != '-') {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left, err = p.newNode(Node{Kind: NodeBinary, Op: tk.op, Left: left, Right: right})
		if err != nil {
			return nil, err
		}
	}
}

// parseTerm := parseUnary (('*' | '/') parseUnary)*
func (p *parser) parseTerm() (*Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tk := p.peek()
		if tk.kind != tokOp || (tk.op != '*' && tk.op != '/') {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = p.newNode(Node{Kind: NodeBinary, Op: tk.op, Left: left, Right: right})
		if err != nil {
			return nil, err
		}
	}
}

// parseUnary := '-' parseUnary | parsePrimary
func (p *parser) parseUnary() (*Node, error) {
	tk := p.peek()
	if tk.kind == tokOp && tk.op == '-' {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.newNode(Node{Kind: NodeNeg, Left: operand})
	}
	return p.parsePrimary()
}

// parsePrimary := number | ident | '(' parseExpr ')'
func (p *parser) parsePrimary() (*Node, error) {
	tk := p.next()
	switch tk.kind {
	case tokNumber:
		return p.newNode(Node{Kind: NodeLiteral, Lit: tk.num})
	case tokIdent:
		return p.newNode(Node{Kind: NodeIdent, Name: tk.name})
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, errs.New(errs.KindUnsafeExpression, "unbalanced parentheses")
		}
		return inner, nil
	case tokEOF:
		return nil, errs.New(errs.KindUnsafeExpression, "unexpected end of formula")
	default:
		return nil, errs.New(errs.KindUnsafeExpression, "unexpected token")
	}
}

func unsafeAt(src string, pos int, reason string) error {
	end := pos + 10
	if end > len(src) {
		end = len(src)
	}
	return errs.Newf(errs.KindUnsafeExpression, "%s", reason).
		WithValue(strings.TrimSpace(src[pos:end]))
}
