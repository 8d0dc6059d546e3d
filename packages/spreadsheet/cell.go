package spreadsheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType tags the variant held by a Value
type ValueType uint8

const (
	ValueTypeEmpty ValueType = iota
	ValueTypeNumber
	ValueTypeString
	ValueTypeBool
	ValueTypeError
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeEmpty:
		return "empty"
	case ValueTypeNumber:
		return "number"
	case ValueTypeString:
		return "string"
	case ValueTypeBool:
		return "bool"
	case ValueTypeError:
		return "error"
	}
	return "unknown"
}

// Value is a computed cell value. exactly one of the payload fields is
// meaningful, selected by Type.
type Value struct {
	Type   ValueType
	Number float64
	Text   string
	Bool   bool
	Err    *EvalError
}

// EmptyValue is the value of a cell that was never written
var EmptyValue = Value{}

// NumberValue wraps a float64
func NumberValue(f float64) Value { return Value{Type: ValueTypeNumber, Number: f} }

// StringValue wraps a string
func StringValue(s string) Value { return Value{Type: ValueTypeString, Text: s} }

// BoolValue wraps a bool
func BoolValue(b bool) Value { return Value{Type: ValueTypeBool, Bool: b} }

// ErrorValue wraps an evaluation error
func ErrorValue(err *EvalError) Value { return Value{Type: ValueTypeError, Err: err} }

func (v Value) IsEmpty() bool { return v.Type == ValueTypeEmpty }
func (v Value) IsError() bool { return v.Type == ValueTypeError }

// Equal reports whether two values are the same variant with the same
// payload. errors compare by kind and origin.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueTypeNumber:
		return v.Number == o.Number || (math.IsNaN(v.Number) && math.IsNaN(o.Number))
	case ValueTypeString:
		return v.Text == o.Text
	case ValueTypeBool:
		return v.Bool == o.Bool
	case ValueTypeError:
		return v.Err.Kind == o.Err.Kind && v.Err.Origin == o.Err.Origin && v.Err.Source == o.Err.Source
	}
	return true
}

func (v Value) String() string {
	switch v.Type {
	case ValueTypeNumber:
		return FormatNumber(v.Number)
	case ValueTypeString:
		return v.Text
	case ValueTypeBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case ValueTypeError:
		return v.Err.Code()
	}
	return ""
}

// ParseLiteral classifies non-formula cell input. parseable numbers become
// numbers, everything else is kept as text.
func ParseLiteral(text string) Value {
	if text == "" {
		return EmptyValue
	}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return NumberValue(f)
		}
	}
	return StringValue(text)
}

// Address identifies a cell. both coordinates are 1-based.
type Address struct {
	Col int
	Row int
}

// Less orders addresses row-major
func (a Address) Less(b Address) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}

func (a Address) Valid() bool { return a.Col > 0 && a.Row > 0 }

func (a Address) String() string {
	return ColumnName(a.Col) + strconv.Itoa(a.Row)
}

// ColumnName converts a 1-based column number to its letter code (1 -> A,
// 27 -> AA)
func ColumnName(col int) string {
	if col <= 0 {
		return ""
	}
	var buf [16]byte
	i := len(buf)
	for col > 0 {
		col--
		i--
		buf[i] = byte('A' + col%26)
		col /= 26
	}
	return string(buf[i:])
}

// ColumnNumber converts a letter code to a 1-based column number. letters are
// case-insensitive.
func ColumnNumber(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("empty column name")
	}
	col := 0
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
			r -= 'a' - 'A'
		default:
			return 0, fmt.Errorf("invalid column name %q", name)
		}
		if col > (math.MaxInt-26)/26 {
			return 0, fmt.Errorf("column %q out of range", name)
		}
		col = col*26 + int(r-'A'+1)
	}
	return col, nil
}

// ParseAddress parses a reference like "B2" or "ab12"
func ParseAddress(ref string) (Address, error) {
	i := 0
	for i < len(ref) && isLetter(ref[i]) {
		i++
	}
	if i == 0 || i == len(ref) {
		return Address{}, fmt.Errorf("invalid cell reference %q", ref)
	}
	col, err := ColumnNumber(ref[:i])
	if err != nil {
		return Address{}, err
	}
	for j := i; j < len(ref); j++ {
		if !isDigit(ref[j]) {
			return Address{}, fmt.Errorf("invalid cell reference %q", ref)
		}
	}
	row, err := strconv.Atoi(ref[i:])
	if err != nil {
		return Address{}, fmt.Errorf("row of %q out of range", ref)
	}
	if row <= 0 {
		return Address{}, fmt.Errorf("invalid row in cell reference %q", ref)
	}
	return Address{Col: col, Row: row}, nil
}

// MustParseAddress is ParseAddress for literals known to be valid
func MustParseAddress(ref string) Address {
	addr, err := ParseAddress(ref)
	if err != nil {
		panic(err)
	}
	return addr
}

// Cell represents a populated cell with its input, parsed tree and cached
// result
type Cell struct {
	Raw   string     // text exactly as written
	Tree  *Node      // nil for literal cells
	Value Value      // cached computed value
	Err   *CellError // error state, nil when healthy
}

func (c *Cell) IsFormula() bool { return c.Tree != nil }

func isLetter(c byte) bool { return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
