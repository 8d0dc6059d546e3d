package spreadsheet

import (
	"strconv"
)

// operator precedence, lowest binds loosest. unary prefix operators sit
// between multiplication and exponentiation so -2^2 is -(2^2).
const (
	precComparison = 1
	precConcat     = 2
	precAdditive   = 3
	precMultiply   = 4
	precPrefix     = 5
	precPower      = 6
)

type operatorInfo struct {
	op         Operator
	precedence int
	rightAssoc bool
}

var binaryOperators = map[string]operatorInfo{
	"=":  {OpEqual, precComparison, false},
	"<>": {OpNotEqual, precComparison, false},
	"<":  {OpLess, precComparison, false},
	"<=": {OpLessEqual, precComparison, false},
	">":  {OpGreater, precComparison, false},
	">=": {OpGreaterEqual, precComparison, false},
	"&":  {OpConcat, precConcat, false},
	"+":  {OpAdd, precAdditive, false},
	"-":  {OpSubtract, precAdditive, false},
	"*":  {OpMultiply, precMultiply, false},
	"/":  {OpDivide, precMultiply, false},
	"^":  {OpPower, precPower, true},
}

var prefixOperators = map[string]operatorInfo{
	"-": {OpNegate, precPrefix, true},
	"+": {OpPlus, precPrefix, true},
}

// stackEntry is either a pending operator or the marker left by an opening
// parenthesis
type stackEntry struct {
	info   operatorInfo
	unary  bool
	marker bool
	pos    int
}

// frame tracks one open parenthesis. calls count their arguments.
type frame struct {
	call     bool
	name     string
	argCount int
	pos      int
}

// Parser builds expression trees with two stacks, one for operands and one
// for operators, closing groups and calls as their parens close
type Parser struct {
	tokens   []Token
	pos      int
	operands []*Node
	ops      []stackEntry
	frames   []frame
}

// NewParser creates a parser over a token slice ending in TokenEOF
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse builds the expression tree for tokens
func Parse(tokens []Token) (*Node, error) {
	return NewParser(tokens).Parse()
}

// ParseExpression tokenizes and parses formula text without its marker
func ParseExpression(text string) (*Node, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	return Parse(tokens)
}

// Parse consumes all tokens and returns the root node
func (p *Parser) Parse() (*Node, error) {
	if len(p.tokens) == 0 || p.tokens[0].Type == TokenEOF {
		pos := 0
		if len(p.tokens) > 0 {
			pos = p.tokens[0].Pos
		}
		return nil, newSyntaxError(EmptyExpression, pos, "formula has no expression")
	}

	expectOperand := true
	justOpenedCall := false
	for ; p.pos < len(p.tokens); p.pos++ {
		tok := p.tokens[p.pos]
		if expectOperand {
			opened, err := p.operand(tok, justOpenedCall)
			if err != nil {
				return nil, err
			}
			justOpenedCall = opened
			// a zero-argument call closes in operand position
			if tok.Type == TokenRightParen {
				expectOperand = false
			} else if tok.Type != TokenOperator && tok.Type != TokenFunction && tok.Type != TokenLeftParen {
				expectOperand = false
			}
			continue
		}
		justOpenedCall = false
		done, err := p.operator(tok)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		expectOperand = tok.Type == TokenOperator || tok.Type == TokenComma
	}

	if len(p.operands) != 1 {
		return nil, newSyntaxError(UnexpectedToken, p.tokens[len(p.tokens)-1].Pos, "malformed expression")
	}
	return p.operands[0], nil
}

// operand handles a token where a value is expected. it reports whether the
// token opened a call, so an immediate closing paren means zero arguments.
func (p *Parser) operand(tok Token, justOpenedCall bool) (bool, error) {
	switch tok.Type {
	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			// only overflow reaches here, the lexer guarantees the shape
			return false, newSyntaxError(UnexpectedToken, tok.Pos, "number %s out of range", tok.Value)
		}
		p.push(literalNode(NumberValue(f), tok.Pos))
	case TokenString:
		p.push(literalNode(StringValue(tok.Value), tok.Pos))
	case TokenBoolean:
		p.push(literalNode(BoolValue(tok.Value == "TRUE"), tok.Pos))
	case TokenCell:
		addr, err := ParseAddress(tok.Value)
		if err != nil {
			return false, newSyntaxError(InvalidReference, tok.Pos, "%v", err)
		}
		p.push(referenceNode(addr, tok.Pos))
	case TokenRange:
		r, err := ParseRange(tok.Value)
		if err != nil {
			return false, newSyntaxError(InvalidReference, tok.Pos, "%v", err)
		}
		p.push(rangeNode(r, tok.Pos))
	case TokenOperator:
		info, ok := prefixOperators[tok.Value]
		if !ok {
			return false, newSyntaxError(UnexpectedToken, tok.Pos, "operator %s needs a left operand", tok.Value)
		}
		p.ops = append(p.ops, stackEntry{info: info, unary: true, pos: tok.Pos})
	case TokenFunction:
		// the lexer only emits a function when '(' follows
		p.pos++
		p.frames = append(p.frames, frame{call: true, name: tok.Value, pos: tok.Pos})
		p.ops = append(p.ops, stackEntry{marker: true, pos: tok.Pos})
		return true, nil
	case TokenLeftParen:
		p.frames = append(p.frames, frame{pos: tok.Pos})
		p.ops = append(p.ops, stackEntry{marker: true, pos: tok.Pos})
	case TokenRightParen:
		if justOpenedCall {
			return false, p.closeParen(tok)
		}
		if len(p.frames) == 0 {
			return false, newSyntaxError(UnbalancedParens, tok.Pos, "unmatched closing parenthesis")
		}
		return false, newSyntaxError(UnexpectedToken, tok.Pos, "missing value before closing parenthesis")
	case TokenEOF:
		if len(p.frames) > 0 {
			return false, newSyntaxError(UnbalancedParens, p.frames[len(p.frames)-1].pos, "parenthesis is not closed")
		}
		return false, newSyntaxError(MissingOperand, tok.Pos, "expression ends after an operator")
	case TokenIdentifier:
		return false, newSyntaxError(UnexpectedToken, tok.Pos, "unknown name %s", tok.Value)
	default:
		return false, newSyntaxError(UnexpectedToken, tok.Pos, "unexpected %s", tok.Type)
	}
	return false, nil
}

// operator handles a token following a complete operand. it reports true
// once the end of input has been reduced.
func (p *Parser) operator(tok Token) (bool, error) {
	switch tok.Type {
	case TokenOperator:
		info := binaryOperators[tok.Value]
		for len(p.ops) > 0 {
			top := p.ops[len(p.ops)-1]
			if top.marker {
				break
			}
			if top.info.precedence < info.precedence ||
				(top.info.precedence == info.precedence && info.rightAssoc) {
				break
			}
			if err := p.reduce(); err != nil {
				return false, err
			}
		}
		p.ops = append(p.ops, stackEntry{info: info, pos: tok.Pos})
	case TokenComma:
		if len(p.frames) == 0 || !p.frames[len(p.frames)-1].call {
			return false, newSyntaxError(UnexpectedToken, tok.Pos, "comma outside of a function call")
		}
		if err := p.reduceToMarker(); err != nil {
			return false, err
		}
		p.frames[len(p.frames)-1].argCount++
	case TokenRightParen:
		if len(p.frames) == 0 {
			return false, newSyntaxError(UnbalancedParens, tok.Pos, "unmatched closing parenthesis")
		}
		if err := p.reduceToMarker(); err != nil {
			return false, err
		}
		p.frames[len(p.frames)-1].argCount++
		return false, p.closeParen(tok)
	case TokenEOF:
		for len(p.ops) > 0 {
			if p.ops[len(p.ops)-1].marker {
				return false, newSyntaxError(UnbalancedParens, p.frames[len(p.frames)-1].pos, "parenthesis is not closed")
			}
			if err := p.reduce(); err != nil {
				return false, err
			}
		}
		return true, nil
	default:
		return false, newSyntaxError(UnexpectedToken, tok.Pos, "expected an operator, found %s %q", tok.Type, tok.Value)
	}
	return false, nil
}

// closeParen pops the innermost frame and its marker. calls collect their
// arguments off the operand stack.
func (p *Parser) closeParen(tok Token) error {
	p.ops = p.ops[:len(p.ops)-1]
	f := p.frames[len(p.frames)-1]
	p.frames = p.frames[:len(p.frames)-1]
	if !f.call {
		return nil
	}
	if len(p.operands) < f.argCount {
		return newSyntaxError(MissingOperand, tok.Pos, "%s is missing arguments", f.name)
	}
	split := len(p.operands) - f.argCount
	args := make([]*Node, f.argCount)
	copy(args, p.operands[split:])
	p.operands = p.operands[:split]
	p.push(callNode(f.name, args, f.pos))
	return nil
}

// reduceToMarker applies operators until the innermost open paren
func (p *Parser) reduceToMarker() error {
	for len(p.ops) > 0 && !p.ops[len(p.ops)-1].marker {
		if err := p.reduce(); err != nil {
			return err
		}
	}
	return nil
}

// reduce pops one operator and combines its operands into a node
func (p *Parser) reduce() error {
	entry := p.ops[len(p.ops)-1]
	p.ops = p.ops[:len(p.ops)-1]
	if entry.unary {
		if len(p.operands) < 1 {
			return newSyntaxError(MissingOperand, entry.pos, "operator %s has no operand", entry.info.op)
		}
		operand := p.pop()
		p.push(unaryNode(entry.info.op, operand, entry.pos))
		return nil
	}
	if len(p.operands) < 2 {
		return newSyntaxError(MissingOperand, entry.pos, "operator %s needs two operands", entry.info.op)
	}
	right := p.pop()
	left := p.pop()
	p.push(binaryNode(entry.info.op, left, right, entry.pos))
	return nil
}

func (p *Parser) push(n *Node) { p.operands = append(p.operands, n) }

func (p *Parser) pop() *Node {
	n := p.operands[len(p.operands)-1]
	p.operands = p.operands[:len(p.operands)-1]
	return n
}
