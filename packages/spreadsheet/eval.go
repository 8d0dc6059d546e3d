package spreadsheet

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Resolver supplies the current cached value of a cell. it never triggers
// evaluation.
type Resolver interface {
	Resolve(addr Address) Value
}

// ResolverFunc adapts a plain function to Resolver
type ResolverFunc func(addr Address) Value

func (f ResolverFunc) Resolve(addr Address) Value { return f(addr) }

// Evaluator computes expression trees against a resolver using a function
// registry
type Evaluator struct {
	functions *BuiltInFunctions
	resolver  Resolver
}

// NewEvaluator creates a new evaluator. a nil registry means the default
// function library.
func NewEvaluator(functions *BuiltInFunctions, resolver Resolver) *Evaluator {
	if functions == nil {
		functions = NewDefaultBuiltInFunctions()
	}
	return &Evaluator{functions: functions, resolver: resolver}
}

// Evaluate computes n with the default function library. a formula that
// yields nothing (a bare reference to an empty cell) evaluates to 0.
func Evaluate(n *Node, resolver Resolver) Value {
	return NewEvaluator(nil, resolver).Evaluate(n)
}

// Evaluate computes the value of a whole formula tree
func (e *Evaluator) Evaluate(n *Node) Value {
	v := e.eval(n)
	if v.IsEmpty() {
		return NumberValue(0)
	}
	return v
}

func (e *Evaluator) eval(n *Node) Value {
	switch n.Kind {
	case NodeLiteral:
		return n.Value
	case NodeReference:
		return e.resolve(n.Ref)
	case NodeRange:
		return ErrorValue(NewEvalError(TypeMismatch, "range %s used as a single value", n.Range()))
	case NodeUnary:
		return e.evalUnary(n)
	case NodeBinary:
		return e.evalBinary(n)
	case NodeCall:
		return e.evalCall(n)
	}
	return ErrorValue(NewEvalError(TypeMismatch, "unknown node kind %d", n.Kind))
}

// resolve reads a cell, turning an error found there into a propagated one
func (e *Evaluator) resolve(addr Address) Value {
	v := e.resolver.Resolve(addr)
	if v.IsError() {
		return ErrorValue(propagate(errorSource(v.Err, addr), v.Err))
	}
	return v
}

func (e *Evaluator) evalUnary(n *Node) Value {
	v := e.eval(n.Args[0])
	if v.IsError() {
		return v
	}
	f, err := toNumber(v)
	if err != nil {
		return ErrorValue(err)
	}
	if n.Op == OpNegate {
		return NumberValue(-f)
	}
	return NumberValue(f)
}

func (e *Evaluator) evalBinary(n *Node) Value {
	left := e.eval(n.Args[0])
	if left.IsError() {
		return left
	}
	right := e.eval(n.Args[1])
	if right.IsError() {
		return right
	}

	switch n.Op {
	case OpConcat:
		return StringValue(toText(left) + toText(right))
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return BoolValue(compareOp(n.Op, compareValues(left, right)))
	}

	l, err := toNumber(left)
	if err != nil {
		return ErrorValue(err)
	}
	r, err := toNumber(right)
	if err != nil {
		return ErrorValue(err)
	}
	switch n.Op {
	case OpAdd:
		return numberResult(l + r)
	case OpSubtract:
		return numberResult(l - r)
	case OpMultiply:
		return numberResult(l * r)
	case OpDivide:
		if r == 0 {
			return ErrorValue(NewEvalError(DivideByZero, "division by zero"))
		}
		return numberResult(l / r)
	case OpPower:
		if l == 0 && r < 0 {
			return ErrorValue(NewEvalError(DivideByZero, "zero raised to a negative power"))
		}
		return numberResult(math.Pow(l, r))
	}
	return ErrorValue(NewEvalError(TypeMismatch, "unknown operator %s", n.Op))
}

func (e *Evaluator) evalCall(n *Node) Value {
	fn, ok := e.functions.Lookup(n.Name)
	if !ok {
		return ErrorValue(NewEvalError(UnknownFunction, "unknown function %s", n.Name))
	}
	if len(n.Args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(n.Args) > fn.MaxArgs) {
		return ErrorValue(NewEvalError(ArgumentCount, "%s does not take %d arguments", n.Name, len(n.Args)))
	}

	args := make([]Arg, len(n.Args))
	for i, node := range n.Args {
		if node.Kind != NodeRange {
			args[i] = Arg{Value: e.eval(node), IsReference: node.Kind == NodeReference}
			continue
		}
		if !fn.AcceptsRanges {
			return ErrorValue(NewEvalError(TypeMismatch, "%s does not accept the range %s", n.Name, node.Range()))
		}
		r := node.Range()
		values := make([]Value, 0, r.Size())
		for addr := range r.Cells() {
			values = append(values, e.resolve(addr))
		}
		args[i] = Arg{Range: values, IsRange: true}
	}
	return fn.Impl(args)
}

// numberResult rejects results that are not finite
func numberResult(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrorValue(NewEvalError(InvalidNumber, "result is not a finite number"))
	}
	return NumberValue(f)
}

// toNumber coerces a value for arithmetic. empty is 0, booleans are 1 and 0,
// numeric text is parsed.
func toNumber(v Value) (float64, *EvalError) {
	switch v.Type {
	case ValueTypeNumber:
		return v.Number, nil
	case ValueTypeEmpty:
		return 0, nil
	case ValueTypeBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case ValueTypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return 0, NewEvalError(TypeMismatch, "%q is not a number", v.Text)
		}
		return f, nil
	case ValueTypeError:
		return 0, v.Err
	}
	return 0, NewEvalError(TypeMismatch, "unsupported value")
}

// toText coerces a value for concatenation
func toText(v Value) string {
	return v.String()
}

// toBool coerces a value for logical functions
func toBool(v Value) (bool, *EvalError) {
	switch v.Type {
	case ValueTypeBool:
		return v.Bool, nil
	case ValueTypeNumber:
		return v.Number != 0, nil
	case ValueTypeEmpty:
		return false, nil
	case ValueTypeString:
		switch strings.ToUpper(strings.TrimSpace(v.Text)) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
		return false, NewEvalError(TypeMismatch, "%q is not a logical value", v.Text)
	case ValueTypeError:
		return false, v.Err
	}
	return false, NewEvalError(TypeMismatch, "unsupported value")
}

// typeRank orders mixed-type comparisons: numbers < text < booleans
func typeRank(v Value) int {
	switch v.Type {
	case ValueTypeNumber:
		return 0
	case ValueTypeString:
		return 1
	case ValueTypeBool:
		return 2
	}
	return -1
}

// compareValues returns -1, 0 or 1. an empty operand takes the zero value of
// the other side's type.
func compareValues(a, b Value) int {
	if a.IsEmpty() && b.IsEmpty() {
		return 0
	}
	if a.IsEmpty() {
		a = zeroOf(b)
	}
	if b.IsEmpty() {
		b = zeroOf(a)
	}
	if ra, rb := typeRank(a), typeRank(b); ra != rb {
		return cmpInt(ra, rb)
	}
	switch a.Type {
	case ValueTypeNumber:
		switch {
		case a.Number < b.Number:
			return -1
		case a.Number > b.Number:
			return 1
		}
		return 0
	case ValueTypeString:
		return strings.Compare(foldCase(a.Text), foldCase(b.Text))
	case ValueTypeBool:
		return cmpInt(boolInt(a.Bool), boolInt(b.Bool))
	}
	return 0
}

// foldCase normalizes text for case-insensitive comparison. a Caser keeps
// state, so each call gets its own.
func foldCase(s string) string { return cases.Fold().String(s) }

func zeroOf(v Value) Value {
	switch v.Type {
	case ValueTypeString:
		return StringValue("")
	case ValueTypeBool:
		return BoolValue(false)
	}
	return NumberValue(0)
}

func compareOp(op Operator, c int) bool {
	switch op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
