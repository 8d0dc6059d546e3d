package spreadsheet

import (
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Arg is one evaluated function argument. range arguments carry every cell
// value in row-major order instead of a single value. IsReference marks a
// scalar argument that was a single cell reference.
type Arg struct {
	Value       Value
	Range       []Value
	IsRange     bool
	IsReference bool
}

// fromCells reports whether the argument's values were read from cells, in
// which case aggregates skip what is not a number
func (a Arg) fromCells() bool { return a.IsRange || a.IsReference }

// Values returns the argument as a sequence of values
func (a Arg) Values() []Value {
	if a.IsRange {
		return a.Range
	}
	return []Value{a.Value}
}

// FunctionImpl computes a function result from evaluated arguments
type FunctionImpl func(args []Arg) Value

// Function is a registry entry. MaxArgs of -1 means variadic.
type Function struct {
	MinArgs       int
	MaxArgs       int
	AcceptsRanges bool
	Impl          FunctionImpl
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct {
	registry map[string]Function
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with the standard
// library registered
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	bf := &BuiltInFunctions{registry: make(map[string]Function)}

	// trigonometry
	bf.Register("SIN", unaryMath(math.Sin))
	bf.Register("COS", unaryMath(math.Cos))
	bf.Register("TAN", unaryMath(math.Tan))
	bf.Register("ASIN", unaryMath(math.Asin))
	bf.Register("ACOS", unaryMath(math.Acos))
	bf.Register("ATAN", unaryMath(math.Atan))
	bf.Register("ATAN2", Function{MinArgs: 2, MaxArgs: 2, Impl: bf.ATAN2})

	// exponential and numeric
	bf.Register("EXP", unaryMath(math.Exp))
	bf.Register("LN", unaryMath(math.Log))
	bf.Register("LOG10", unaryMath(math.Log10))
	bf.Register("SQRT", unaryMath(math.Sqrt))
	bf.Register("ABS", unaryMath(math.Abs))
	bf.Register("FLOOR", unaryMath(math.Floor))
	bf.Register("CEILING", unaryMath(math.Ceil))
	bf.Register("LOG", Function{MinArgs: 1, MaxArgs: 2, Impl: bf.LOG})
	bf.Register("POWER", Function{MinArgs: 2, MaxArgs: 2, Impl: bf.POWER})
	bf.Register("MOD", Function{MinArgs: 2, MaxArgs: 2, Impl: bf.MOD})
	bf.Register("ROUND", Function{MinArgs: 1, MaxArgs: 2, Impl: bf.ROUND})
	bf.Register("PI", Function{MinArgs: 0, MaxArgs: 0, Impl: bf.PI})

	// aggregates
	bf.Register("SUM", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.SUM})
	bf.Register("AVERAGE", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.AVERAGE})
	bf.Register("MIN", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.MIN})
	bf.Register("MAX", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.MAX})
	bf.Register("COUNT", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.COUNT})
	bf.Register("COUNTA", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.COUNTA})

	// logical
	bf.Register("IF", Function{MinArgs: 2, MaxArgs: 3, Impl: bf.IF})
	bf.Register("AND", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.AND})
	bf.Register("OR", Function{MinArgs: 1, MaxArgs: -1, AcceptsRanges: true, Impl: bf.OR})
	bf.Register("NOT", Function{MinArgs: 1, MaxArgs: 1, Impl: bf.NOT})
	bf.Register("IFERROR", Function{MinArgs: 2, MaxArgs: 2, Impl: bf.IFERROR})
	bf.Register("ISERROR", Function{MinArgs: 1, MaxArgs: 1, Impl: bf.ISERROR})
	bf.Register("ISBLANK", Function{MinArgs: 1, MaxArgs: 1, Impl: bf.ISBLANK})

	// text
	bf.Register("CONCATENATE", Function{MinArgs: 1, MaxArgs: -1, Impl: bf.CONCATENATE})
	bf.Register("LEN", Function{MinArgs: 1, MaxArgs: 1, Impl: bf.LEN})
	bf.Register("UPPER", Function{MinArgs: 1, MaxArgs: 1, Impl: bf.UPPER})
	bf.Register("LOWER", Function{MinArgs: 1, MaxArgs: 1, Impl: bf.LOWER})
	bf.Register("TRIM", Function{MinArgs: 1, MaxArgs: 1, Impl: bf.TRIM})

	return bf
}

// Register adds or replaces a function. names are case-insensitive.
func (bf *BuiltInFunctions) Register(name string, fn Function) {
	bf.registry[strings.ToUpper(name)] = fn
}

// Lookup finds a function by name
func (bf *BuiltInFunctions) Lookup(name string) (Function, bool) {
	fn, ok := bf.registry[strings.ToUpper(name)]
	return fn, ok
}

// Len returns the number of registered functions
func (bf *BuiltInFunctions) Len() int { return len(bf.registry) }

// Call invokes a built-in function by name with already evaluated arguments
func (bf *BuiltInFunctions) Call(name string, args ...Arg) Value {
	fn, ok := bf.Lookup(name)
	if !ok {
		return ErrorValue(NewEvalError(UnknownFunction, "unknown function %s", name))
	}
	if len(args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(args) > fn.MaxArgs) {
		return ErrorValue(NewEvalError(ArgumentCount, "%s does not take %d arguments", name, len(args)))
	}
	return fn.Impl(args)
}

// checkForError returns the first error among the arguments, nil otherwise
func checkForError(args []Arg) *EvalError {
	for _, arg := range args {
		for _, v := range arg.Values() {
			if v.IsError() {
				return v.Err
			}
		}
	}
	return nil
}

// unaryMath wraps a float function taking one numeric argument
func unaryMath(fn func(float64) float64) Function {
	return Function{MinArgs: 1, MaxArgs: 1, Impl: func(args []Arg) Value {
		x, err := toNumber(args[0].Value)
		if err != nil {
			return ErrorValue(err)
		}
		return numberResult(fn(x))
	}}
}

// numbers coerces every scalar argument to a number
func numbers(args []Arg) ([]float64, *EvalError) {
	out := make([]float64, len(args))
	for i, arg := range args {
		f, err := toNumber(arg.Value)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// collectNumbers gathers aggregate inputs. cells read through a range or a
// reference contribute only numbers, literal arguments are coerced and
// empties are skipped.
func collectNumbers(args []Arg) ([]float64, *EvalError) {
	if err := checkForError(args); err != nil {
		return nil, err
	}
	var out []float64
	for _, arg := range args {
		if arg.fromCells() {
			for _, v := range arg.Values() {
				if v.Type == ValueTypeNumber {
					out = append(out, v.Number)
				}
			}
			continue
		}
		if arg.Value.IsEmpty() {
			continue
		}
		f, err := toNumber(arg.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (bf *BuiltInFunctions) ATAN2(args []Arg) Value {
	xs, err := numbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	if xs[0] == 0 && xs[1] == 0 {
		return ErrorValue(NewEvalError(DivideByZero, "ATAN2 of the origin"))
	}
	// spreadsheet order is (x, y)
	return numberResult(math.Atan2(xs[1], xs[0]))
}

func (bf *BuiltInFunctions) LOG(args []Arg) Value {
	xs, err := numbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	base := 10.0
	if len(xs) == 2 {
		base = xs[1]
	}
	if xs[0] <= 0 || base <= 0 {
		return ErrorValue(NewEvalError(InvalidNumber, "LOG requires positive arguments"))
	}
	if base == 1 {
		return ErrorValue(NewEvalError(DivideByZero, "LOG base 1"))
	}
	return numberResult(math.Log(xs[0]) / math.Log(base))
}

func (bf *BuiltInFunctions) POWER(args []Arg) Value {
	xs, err := numbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	if xs[0] == 0 && xs[1] < 0 {
		return ErrorValue(NewEvalError(DivideByZero, "zero raised to a negative power"))
	}
	return numberResult(math.Pow(xs[0], xs[1]))
}

// MOD takes the sign of the divisor
func (bf *BuiltInFunctions) MOD(args []Arg) Value {
	xs, err := numbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	if xs[1] == 0 {
		return ErrorValue(NewEvalError(DivideByZero, "division by zero"))
	}
	return numberResult(xs[0] - xs[1]*math.Floor(xs[0]/xs[1]))
}

// maxRoundPlaces keeps 10^places finite
const maxRoundPlaces = 308

// ROUND rounds half away from zero to the given number of digits
func (bf *BuiltInFunctions) ROUND(args []Arg) Value {
	xs, err := numbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	places := 0.0
	if len(xs) == 2 {
		places = math.Trunc(xs[1])
	}
	switch {
	case places > maxRoundPlaces:
		return NumberValue(xs[0])
	case places < -maxRoundPlaces:
		return NumberValue(0)
	}
	multiplier := math.Pow(10, places)
	scaled := xs[0] * multiplier
	if math.IsInf(scaled, 0) {
		// already exact at this precision
		return NumberValue(xs[0])
	}
	return numberResult(math.Round(scaled) / multiplier)
}

func (bf *BuiltInFunctions) PI(args []Arg) Value {
	return NumberValue(math.Pi)
}

func (bf *BuiltInFunctions) SUM(args []Arg) Value {
	xs, err := collectNumbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return numberResult(sum)
}

func (bf *BuiltInFunctions) AVERAGE(args []Arg) Value {
	xs, err := collectNumbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	if len(xs) == 0 {
		return ErrorValue(NewEvalError(DivideByZero, "AVERAGE has no numeric values"))
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return numberResult(sum / float64(len(xs)))
}

// MIN returns 0 when there are no numbers
func (bf *BuiltInFunctions) MIN(args []Arg) Value {
	xs, err := collectNumbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	if len(xs) == 0 {
		return NumberValue(0)
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return NumberValue(m)
}

// MAX returns 0 when there are no numbers
func (bf *BuiltInFunctions) MAX(args []Arg) Value {
	xs, err := collectNumbers(args)
	if err != nil {
		return ErrorValue(err)
	}
	if len(xs) == 0 {
		return NumberValue(0)
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return NumberValue(m)
}

// COUNT counts numeric values and never fails
func (bf *BuiltInFunctions) COUNT(args []Arg) Value {
	count := 0
	for _, arg := range args {
		for _, v := range arg.Values() {
			switch v.Type {
			case ValueTypeNumber:
				count++
			case ValueTypeBool, ValueTypeString:
				// literal arguments count when they coerce, cell values do not
				if _, err := toNumber(v); err == nil && !arg.fromCells() {
					count++
				}
			}
		}
	}
	return NumberValue(float64(count))
}

// COUNTA counts non-empty values, errors included
func (bf *BuiltInFunctions) COUNTA(args []Arg) Value {
	count := 0
	for _, arg := range args {
		for _, v := range arg.Values() {
			if !v.IsEmpty() {
				count++
			}
		}
	}
	return NumberValue(float64(count))
}

// IF yields FALSE when the condition fails and no else branch is given
func (bf *BuiltInFunctions) IF(args []Arg) Value {
	cond, err := toBool(args[0].Value)
	if err != nil {
		return ErrorValue(err)
	}
	if cond {
		return args[1].Value
	}
	if len(args) == 3 {
		return args[2].Value
	}
	return BoolValue(false)
}

func (bf *BuiltInFunctions) AND(args []Arg) Value {
	return logical(args, true)
}

func (bf *BuiltInFunctions) OR(args []Arg) Value {
	return logical(args, false)
}

// logical folds AND (all true) or OR (any true). empties and text read from
// cells are skipped.
func logical(args []Arg, all bool) Value {
	if err := checkForError(args); err != nil {
		return ErrorValue(err)
	}
	seen := false
	result := all
	for _, arg := range args {
		for _, v := range arg.Values() {
			if v.IsEmpty() || (arg.fromCells() && v.Type == ValueTypeString) {
				continue
			}
			b, err := toBool(v)
			if err != nil {
				return ErrorValue(err)
			}
			seen = true
			if all {
				result = result && b
			} else {
				result = result || b
			}
		}
	}
	if !seen {
		return ErrorValue(NewEvalError(TypeMismatch, "no logical values"))
	}
	return BoolValue(result)
}

func (bf *BuiltInFunctions) NOT(args []Arg) Value {
	b, err := toBool(args[0].Value)
	if err != nil {
		return ErrorValue(err)
	}
	return BoolValue(!b)
}

func (bf *BuiltInFunctions) IFERROR(args []Arg) Value {
	if args[0].Value.IsError() {
		return args[1].Value
	}
	return args[0].Value
}

func (bf *BuiltInFunctions) ISERROR(args []Arg) Value {
	return BoolValue(args[0].Value.IsError())
}

func (bf *BuiltInFunctions) ISBLANK(args []Arg) Value {
	return BoolValue(args[0].Value.IsEmpty())
}

func (bf *BuiltInFunctions) CONCATENATE(args []Arg) Value {
	if err := checkForError(args); err != nil {
		return ErrorValue(err)
	}
	var result strings.Builder
	for _, arg := range args {
		result.WriteString(toText(arg.Value))
	}
	return StringValue(result.String())
}

// textArg returns the single text argument, or the error it carries
func textArg(args []Arg) (string, *EvalError) {
	if err := checkForError(args); err != nil {
		return "", err
	}
	return toText(args[0].Value), nil
}

func (bf *BuiltInFunctions) LEN(args []Arg) Value {
	s, err := textArg(args)
	if err != nil {
		return ErrorValue(err)
	}
	return NumberValue(float64(utf8.RuneCountInString(s)))
}

func (bf *BuiltInFunctions) UPPER(args []Arg) Value {
	s, err := textArg(args)
	if err != nil {
		return ErrorValue(err)
	}
	return StringValue(cases.Upper(language.Und).String(s))
}

func (bf *BuiltInFunctions) LOWER(args []Arg) Value {
	s, err := textArg(args)
	if err != nil {
		return ErrorValue(err)
	}
	return StringValue(cases.Lower(language.Und).String(s))
}

// TRIM drops leading and trailing spaces and collapses inner runs to one
func (bf *BuiltInFunctions) TRIM(args []Arg) Value {
	s, err := textArg(args)
	if err != nil {
		return ErrorValue(err)
	}
	return StringValue(strings.Join(strings.Fields(s), " "))
}
