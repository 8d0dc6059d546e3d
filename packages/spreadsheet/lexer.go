package spreadsheet

import (
	"strings"
	"unicode"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenCell
	TokenRange
	TokenFunction
	TokenIdentifier
	TokenOperator
	TokenComma
	TokenLeftParen
	TokenRightParen
)

var tokenTypeNames = [...]string{
	TokenEOF:        "EOF",
	TokenNumber:     "Number",
	TokenString:     "String",
	TokenBoolean:    "Boolean",
	TokenCell:       "Cell",
	TokenRange:      "Range",
	TokenFunction:   "Function",
	TokenIdentifier: "Identifier",
	TokenOperator:   "Operator",
	TokenComma:      "Comma",
	TokenLeftParen:  "LeftParen",
	TokenRightParen: "RightParen",
}

func (t TokenType) String() string {
	if int(t) < len(tokenTypeNames) {
		return tokenTypeNames[t]
	}
	return "Unknown"
}

// Token is a single lexical unit. Pos is the rune offset of its first
// character in the tokenized text.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// character classification constants. slightly easier to read.
const (
	charQuote      = '"'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
)

// Lexer turns formula text into tokens
type Lexer struct {
	input []rune
	pos   int
}

// NewLexer creates a new lexer over text
func NewLexer(text string) *Lexer {
	return &Lexer{input: []rune(text)}
}

// Tokenize splits text into tokens. the returned slice always ends with a
// TokenEOF token.
func Tokenize(text string) ([]Token, error) {
	return NewLexer(text).Tokenize()
}

// Tokenize consumes the whole input
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) peek(offset int) rune {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *Lexer) next() (Token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: start}, nil
	}

	ch := l.input[l.pos]
	switch {
	case isDigitRune(ch) || (ch == charPeriod && isDigitRune(l.peek(1))):
		return l.readNumber(), nil
	case ch == charQuote:
		return l.readString()
	case isLetterRune(ch) || ch == charUnderscore:
		return l.readWord()
	}

	l.pos++
	switch ch {
	case charLParen:
		return Token{Type: TokenLeftParen, Value: "(", Pos: start}, nil
	case charRParen:
		return Token{Type: TokenRightParen, Value: ")", Pos: start}, nil
	case charComma:
		return Token{Type: TokenComma, Value: ",", Pos: start}, nil
	case charPlus, charMinus, charAsterisk, charSlash, charCaret, charAmpersand, charEqual:
		return Token{Type: TokenOperator, Value: string(ch), Pos: start}, nil
	case charLess:
		switch l.peek(0) {
		case charEqual:
			l.pos++
			return Token{Type: TokenOperator, Value: "<=", Pos: start}, nil
		case charGreater:
			l.pos++
			return Token{Type: TokenOperator, Value: "<>", Pos: start}, nil
		}
		return Token{Type: TokenOperator, Value: "<", Pos: start}, nil
	case charGreater:
		if l.peek(0) == charEqual {
			l.pos++
			return Token{Type: TokenOperator, Value: ">=", Pos: start}, nil
		}
		return Token{Type: TokenOperator, Value: ">", Pos: start}, nil
	}
	return Token{}, newSyntaxError(UnrecognizedCharacter, start, "unexpected character %q", ch)
}

// readNumber reads integers, decimals, leading-dot decimals and exponents
func (l *Lexer) readNumber() Token {
	start := l.pos
	for isDigitRune(l.peek(0)) {
		l.pos++
	}
	if l.peek(0) == charPeriod {
		l.pos++
		for isDigitRune(l.peek(0)) {
			l.pos++
		}
	}
	// only consume the exponent when digits follow it
	if e := l.peek(0); e == 'e' || e == 'E' {
		offset := 1
		if s := l.peek(1); s == charPlus || s == charMinus {
			offset = 2
		}
		if isDigitRune(l.peek(offset)) {
			l.pos += offset
			for isDigitRune(l.peek(0)) {
				l.pos++
			}
		}
	}
	return Token{Type: TokenNumber, Value: string(l.input[start:l.pos]), Pos: start}
}

// readString reads a double-quoted literal. a doubled quote is an escaped
// quote.
func (l *Lexer) readString() (Token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == charQuote {
			if l.peek(1) == charQuote {
				sb.WriteRune(charQuote)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: start}, nil
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return Token{}, newSyntaxError(UnterminatedString, start, "string literal is not closed")
}

// readWord reads a run of letters, digits, underscores and periods, then
// decides whether it is a function name, a boolean, a cell, a range or a bare
// identifier
func (l *Lexer) readWord() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && isWordRune(l.input[l.pos]) {
		l.pos++
	}
	word := string(l.input[start:l.pos])
	upper := strings.ToUpper(word)

	// anything directly followed by a paren is a call, even LOG10
	if l.peek(0) == charLParen {
		return Token{Type: TokenFunction, Value: upper, Pos: start}, nil
	}
	if upper == "TRUE" || upper == "FALSE" {
		return Token{Type: TokenBoolean, Value: upper, Pos: start}, nil
	}
	if !isCellShaped(word) {
		return Token{Type: TokenIdentifier, Value: word, Pos: start}, nil
	}
	if _, err := ParseAddress(word); err != nil {
		return Token{}, newSyntaxError(InvalidReference, start, "%v", err)
	}

	if l.peek(0) != charColon {
		return Token{Type: TokenCell, Value: upper, Pos: start}, nil
	}
	colon := l.pos
	l.pos++
	endStart := l.pos
	for l.pos < len(l.input) && isWordRune(l.input[l.pos]) {
		l.pos++
	}
	end := string(l.input[endStart:l.pos])
	if !isCellShaped(end) {
		return Token{}, newSyntaxError(InvalidReference, colon, "range %s: needs a cell reference after the colon", upper)
	}
	if _, err := ParseAddress(end); err != nil {
		return Token{}, newSyntaxError(InvalidReference, endStart, "%v", err)
	}
	return Token{Type: TokenRange, Value: upper + ":" + strings.ToUpper(end), Pos: start}, nil
}

// isCellShaped reports whether s is one or more ASCII letters followed by one
// or more digits
func isCellShaped(s string) bool {
	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	if i == 0 || i == len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigitRune(r rune) bool  { return r >= '0' && r <= '9' }
func isLetterRune(r rune) bool { return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') }
func isWordRune(r rune) bool {
	return isLetterRune(r) || isDigitRune(r) || r == charUnderscore || r == charPeriod
}
