package debugger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokChar
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var errUnexpectedEnd = errors.New("unexpected end of expression")

// lexExpr splits an expression into tokens.
func lexExpr(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})
		case r >= '0' && r <= '9':
			start := i
			kind := tokInt
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			// a dot only belongs to the number when a digit follows, so "a[0].b" stays member access
			if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
				kind = tokFloat
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					kind = tokFloat
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			tokens = append(tokens, token{kind: kind, text: src[start:i], pos: start})
		case r == '"':
			end, err := scanQuoted(src, i, '"')
			if err != nil {
				return nil, err
			}
			text, err := strconv.Unquote(src[i:end])
			if err != nil {
				return nil, fmt.Errorf("invalid string literal at %d: %w", i, err)
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: i})
			i = end
		case r == '\'':
			end, err := scanQuoted(src, i, '\'')
			if err != nil {
				return nil, err
			}
			text, err := strconv.Unquote(src[i:end])
			if err != nil {
				return nil, fmt.Errorf("invalid char literal at %d: %w", i, err)
			}
			tokens = append(tokens, token{kind: tokChar, text: text, pos: i})
			i = end
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '[':
			tokens = append(tokens, token{kind: tokLBracket, text: "[", pos: i})
			i++
		case r == ']':
			tokens = append(tokens, token{kind: tokRBracket, text: "]", pos: i})
			i++
		case r == '.':
			tokens = append(tokens, token{kind: tokDot, text: ".", pos: i})
			i++
		default:
			op := matchOperator(src[i:])
			if op == "" {
				return nil, fmt.Errorf("unexpected character %q at %d", r, i)
			}
			tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func scanQuoted(src string, start int, quote byte) (int, error) {
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("unterminated literal at %d", start)
}

var exprOperators = []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">", "+", "-", "*", "/", "%", "!"}

func matchOperator(s string) string {
	for _, op := range exprOperators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

// exprNode is a parsed expression. Nodes are immutable so parsed trees can be shared.
type exprNode interface {
	fmt.Stringer
	exprNode()
}

type (
	identNode struct {
		name string
	}
	literalNode struct {
		value VariableValue
	}
	memberNode struct {
		base  exprNode
		field string
	}
	indexNode struct {
		base  exprNode
		index int64
	}
	unaryNode struct {
		op      string
		operand exprNode
	}
	binaryNode struct {
		op          string
		left, right exprNode
	}
)

func (identNode) exprNode()   {}
func (literalNode) exprNode() {}
func (memberNode) exprNode()  {}
func (indexNode) exprNode()   {}
func (unaryNode) exprNode()   {}
func (binaryNode) exprNode()  {}

func (n identNode) String() string   { return n.name }
func (n literalNode) String() string { return FormatValue(n.value, MaxDisplayDepth) }
func (n memberNode) String() string  { return n.base.String() + "." + n.field }
func (n indexNode) String() string {
	return n.base.String() + "[" + strconv.FormatInt(n.index, 10) + "]"
}
func (n unaryNode) String() string { return n.op + n.operand.String() }
func (n binaryNode) String() string {
	return "(" + n.left.String() + " " + n.op + " " + n.right.String() + ")"
}

// binary operator precedence, higher binds tighter
var binaryPrecedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, ">": 4, "<=": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

// parseExpr parses src into an expression tree.
func parseExpr(src string) (exprNode, error) {
	tokens, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	node, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	} else if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
	}
	return node, nil
}

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() token {
	return p.tokens[p.pos]
}

func (p *exprParser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// parseBinary is a precedence climbing parser; all binary operators are left associative.
func (p *exprParser) parseBinary(minPrec int) (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		prec, ok := binaryPrecedence[tok.text]
		if tok.kind != tokOp || !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text, left: left, right: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if tok := p.peek(); tok.kind == tokOp && (tok.text == "!" || tok.text == "-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tok.text, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *exprParser) parsePostfix() (exprNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			field := p.next()
			if field.kind != tokIdent && field.kind != tokInt {
				return nil, fmt.Errorf("expected field name at %d", field.pos)
			}
			node = memberNode{base: node, field: field.text}
		case tokLBracket:
			p.next()
			idx := p.next()
			if idx.kind != tokInt {
				return nil, fmt.Errorf("index must be an integer literal at %d", idx.pos)
			}
			n, err := strconv.ParseInt(idx.text, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid index at %d: %w", idx.pos, err)
			}
			if closing := p.next(); closing.kind != tokRBracket {
				return nil, fmt.Errorf("expected ] at %d", closing.pos)
			}
			node = indexNode{base: node, index: n}
		default:
			return node, nil
		}
	}
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokIdent:
		switch tok.text {
		case "true":
			return literalNode{value: Boolean(true)}, nil
		case "false":
			return literalNode{value: Boolean(false)}, nil
		case "null", "nil", "None":
			return literalNode{value: Null{}}, nil
		}
		return identNode{name: tok.text}, nil
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(tok.text, 64)
			if ferr != nil {
				return nil, fmt.Errorf("invalid number %q: %w", tok.text, err)
			}
			return literalNode{value: Float(f)}, nil
		}
		return literalNode{value: Integer(n)}, nil
	case tokFloat:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", tok.text, err)
		}
		return literalNode{value: Float(f)}, nil
	case tokString:
		return literalNode{value: String(tok.text)}, nil
	case tokChar:
		r, _ := utf8.DecodeRuneInString(tok.text)
		return literalNode{value: Char(r)}, nil
	case tokLParen:
		node, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at %d", closing.pos)
		}
		return node, nil
	case tokEOF:
		return nil, errUnexpectedEnd
	}
	return nil, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
}
