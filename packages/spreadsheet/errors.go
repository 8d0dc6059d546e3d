package spreadsheet

import (
	"fmt"
)

// ErrorKind enumerates every way a write or an evaluation can fail
type ErrorKind uint8

const (
	// syntax kinds, raised while tokenizing or parsing
	UnterminatedString ErrorKind = iota + 1
	UnrecognizedCharacter
	EmptyExpression
	UnbalancedParens
	UnexpectedToken
	MissingOperand
	InvalidReference
	RangeTooLarge

	// evaluation kinds, stored as cell values
	TypeMismatch
	DivideByZero
	ArgumentCount
	UnknownFunction
	PropagatedError
	CircularReference
	InvalidNumber
)

var errorKindNames = map[ErrorKind]string{
	UnterminatedString:    "UnterminatedString",
	UnrecognizedCharacter: "UnrecognizedCharacter",
	EmptyExpression:       "EmptyExpression",
	UnbalancedParens:      "UnbalancedParens",
	UnexpectedToken:       "UnexpectedToken",
	MissingOperand:        "MissingOperand",
	InvalidReference:      "InvalidReference",
	RangeTooLarge:         "RangeTooLarge",
	TypeMismatch:          "TypeMismatch",
	DivideByZero:          "DivideByZero",
	ArgumentCount:         "ArgumentCount",
	UnknownFunction:       "UnknownFunction",
	PropagatedError:       "PropagatedError",
	CircularReference:     "CircularReference",
	InvalidNumber:         "InvalidNumber",
}

// ErrorMapper maps error kinds to the short codes shown in cells, following
// Excel conventions. syntax kinds all render as #ERROR!.
var ErrorMapper = map[ErrorKind]string{
	TypeMismatch:      "#VALUE!",
	DivideByZero:      "#DIV/0!",
	ArgumentCount:     "#N/A",
	UnknownFunction:   "#NAME?",
	CircularReference: "#REF!",
	InvalidNumber:     "#NUM!",
}

const syntaxErrorCode = "#ERROR!"

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// IsSyntax reports whether the kind is raised by the tokenizer or parser
func (k ErrorKind) IsSyntax() bool { return k >= UnterminatedString && k <= RangeTooLarge }

// IsEval reports whether the kind is raised during evaluation or cycle
// detection
func (k ErrorKind) IsEval() bool { return k >= TypeMismatch && k <= InvalidNumber }

// Code returns the short display code for the kind
func (k ErrorKind) Code() string {
	if k.IsSyntax() {
		return syntaxErrorCode
	}
	if code, ok := ErrorMapper[k]; ok {
		return code
	}
	return syntaxErrorCode
}

// SyntaxError is returned by Tokenize and Parse. Pos is the rune offset of
// the offending input.
type SyntaxError struct {
	Kind    ErrorKind
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s at position %d: %s", e.Kind, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s at position %d", e.Kind, e.Pos)
}

func newSyntaxError(kind ErrorKind, pos int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// EvalError is an evaluation failure carried as a cell value. for
// PropagatedError, Origin holds the kind raised at Source, the address
// where the failure started.
type EvalError struct {
	Kind    ErrorKind
	Origin  ErrorKind
	Source  Address
	Message string
}

func (e *EvalError) Error() string {
	if e.Kind == PropagatedError {
		return fmt.Sprintf("%s from %s (%s)", e.Kind, e.Source, e.Origin)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

// Code is the short display code. propagated errors show the code of the
// failure they carry.
func (e *EvalError) Code() string {
	if e.Kind == PropagatedError {
		return e.Origin.Code()
	}
	return e.Kind.Code()
}

// RootKind returns the kind that started the failure chain
func (e *EvalError) RootKind() ErrorKind {
	if e.Kind == PropagatedError {
		return e.Origin
	}
	return e.Kind
}

// NewEvalError creates a new evaluation error
func NewEvalError(kind ErrorKind, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Origin: kind, Message: fmt.Sprintf(format, args...)}
}

// propagate wraps an error read from the cell at src
func propagate(src Address, err *EvalError) *EvalError {
	return &EvalError{
		Kind:    PropagatedError,
		Origin:  err.RootKind(),
		Source:  src,
		Message: err.Message,
	}
}

// errorSource returns where the failure chain started, falling back to at
// when the error was raised locally
func errorSource(err *EvalError, at Address) Address {
	if err.Kind == PropagatedError && err.Source.Valid() {
		return err.Source
	}
	return at
}

// CellError is the error state of a cell. it is also returned by SetCell
// when a write is rejected. Origin is only set for PropagatedError.
type CellError struct {
	Address Address
	Kind    ErrorKind
	Origin  ErrorKind
	Message string
}

func (e *CellError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Address, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Address, e.Kind)
}

// Code is the short display code for the error state
func (e *CellError) Code() string {
	if e.Kind == PropagatedError {
		return e.Origin.Code()
	}
	return e.Kind.Code()
}

func cellErrorFrom(addr Address, err error) *CellError {
	switch e := err.(type) {
	case *CellError:
		return &CellError{Address: addr, Kind: e.Kind, Origin: e.Origin, Message: e.Message}
	case *SyntaxError:
		return &CellError{Address: addr, Kind: e.Kind, Message: fmt.Sprintf("position %d: %s", e.Pos, e.Message)}
	case *EvalError:
		return evalCellError(addr, e)
	}
	return &CellError{Address: addr, Kind: UnexpectedToken, Message: err.Error()}
}

func evalCellError(addr Address, err *EvalError) *CellError {
	ce := &CellError{Address: addr, Kind: err.Kind, Message: err.Message}
	if err.Kind == PropagatedError {
		ce.Origin = err.Origin
		ce.Message = fmt.Sprintf("%s from %s", err.Origin, err.Source)
	}
	return ce
}

// AppErrorCode represents gRPC-style error codes for application-level errors.
// codes that don't make sense for an in-process engine are skipped.
type AppErrorCode int

const (
	// InvalidArgument indicates client specified an invalid argument, like a
	// malformed cell reference.
	InvalidArgument AppErrorCode = 3

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}
