package spreadsheet

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type EngineTestCase struct {
	t      *testing.T
	name   string
	engine *Engine
}

func NewEngineTestCase(t *testing.T, name string, opts ...Option) *EngineTestCase {
	engine, err := New(opts...)
	require.NoError(t, err, name)
	return &EngineTestCase{t: t, name: name, engine: engine}
}

func (tc *EngineTestCase) Set(ref, text string) *EngineTestCase {
	err := tc.engine.SetCellRef(ref, text)
	assert.NoError(tc.t, err, "%s: Set(%s, %q)", tc.name, ref, text)
	return tc
}

func (tc *EngineTestCase) SetRejected(ref, text string, kind ErrorKind) *EngineTestCase {
	err := tc.engine.SetCellRef(ref, text)
	var cellErr *CellError
	if assert.ErrorAs(tc.t, err, &cellErr, "%s: Set(%s, %q)", tc.name, ref, text) {
		assert.Equal(tc.t, kind, cellErr.Kind, "%s: Set(%s, %q) kind", tc.name, ref, text)
		assert.Equal(tc.t, MustParseAddress(ref), cellErr.Address, "%s: Set(%s, %q) address", tc.name, ref, text)
	}
	return tc
}

func (tc *EngineTestCase) Clear(ref string) *EngineTestCase {
	tc.engine.ClearCell(MustParseAddress(ref))
	return tc
}

func (tc *EngineTestCase) AssertNumber(ref string, expected float64) *EngineTestCase {
	v := tc.engine.Value(MustParseAddress(ref))
	if assert.Equal(tc.t, ValueTypeNumber, v.Type, "%s: %s = %v", tc.name, ref, v) {
		assert.InDelta(tc.t, expected, v.Number, 1e-10, "%s: %s", tc.name, ref)
	}
	return tc
}

func (tc *EngineTestCase) AssertText(ref, expected string) *EngineTestCase {
	v := tc.engine.Value(MustParseAddress(ref))
	assert.Equal(tc.t, StringValue(expected), v, "%s: %s", tc.name, ref)
	return tc
}

func (tc *EngineTestCase) AssertBool(ref string, expected bool) *EngineTestCase {
	v := tc.engine.Value(MustParseAddress(ref))
	assert.Equal(tc.t, BoolValue(expected), v, "%s: %s", tc.name, ref)
	return tc
}

func (tc *EngineTestCase) AssertEmpty(ref string) *EngineTestCase {
	v := tc.engine.Value(MustParseAddress(ref))
	assert.True(tc.t, v.IsEmpty(), "%s: %s = %v, want empty", tc.name, ref, v)
	return tc
}

// AssertErr checks both the error state kind and the code shown for the cell
func (tc *EngineTestCase) AssertErr(ref string, kind ErrorKind, code string) *EngineTestCase {
	addr := MustParseAddress(ref)
	cellErr := tc.engine.Error(addr)
	if assert.NotNil(tc.t, cellErr, "%s: %s has no error", tc.name, ref) {
		assert.Equal(tc.t, kind, cellErr.Kind, "%s: %s kind", tc.name, ref)
	}
	assert.Equal(tc.t, code, tc.engine.DisplayValue(addr), "%s: %s display", tc.name, ref)
	return tc
}

func (tc *EngineTestCase) AssertNoErr(ref string) *EngineTestCase {
	assert.Nil(tc.t, tc.engine.Error(MustParseAddress(ref)), "%s: %s", tc.name, ref)
	return tc
}

func (tc *EngineTestCase) AssertDisplay(ref, expected string) *EngineTestCase {
	assert.Equal(tc.t, expected, tc.engine.DisplayValue(MustParseAddress(ref)), "%s: %s display", tc.name, ref)
	return tc
}

func (tc *EngineTestCase) AssertRaw(ref, expected string) *EngineTestCase {
	assert.Equal(tc.t, expected, tc.engine.RawContent(MustParseAddress(ref)), "%s: %s raw", tc.name, ref)
	return tc
}

func (tc *EngineTestCase) End() {
}

func TestLexingAndParsing(t *testing.T) {
	t.Run("ValidFormulas", func(t *testing.T) {
		NewEngineTestCase(t, "Basic arithmetic").
			Set("A1", "=1+2").
			AssertNumber("A1", 3).
			End()

		NewEngineTestCase(t, "Cell reference").
			Set("A1", "10").
			Set("A2", "=A1").
			AssertNumber("A2", 10).
			End()

		NewEngineTestCase(t, "Function call").
			Set("A1", "5").
			Set("A2", "10").
			Set("A3", "=SUM(A1:A2)").
			AssertNumber("A3", 15).
			End()

		NewEngineTestCase(t, "Lowercase names").
			Set("a1", "4").
			Set("B1", "=sum(a1, 1)").
			AssertNumber("B1", 5).
			End()

		NewEngineTestCase(t, "Whitespace").
			Set("A1", "=  1 +   2 ").
			AssertNumber("A1", 3).
			End()
	})

	t.Run("SyntaxErrors", func(t *testing.T) {
		cases := []struct {
			text string
			kind ErrorKind
		}{
			{"=", EmptyExpression},
			{"=   ", EmptyExpression},
			{`="abc`, UnterminatedString},
			{"=1 # 2", UnrecognizedCharacter},
			{"=(1+2", UnbalancedParens},
			{"=1+2)", UnbalancedParens},
			{"=SUM(1", UnbalancedParens},
			{"=1 2", UnexpectedToken},
			{"=SUM(1,)", UnexpectedToken},
			{"=1,2", UnexpectedToken},
			{"=foo+1", UnexpectedToken},
			{"=*2", UnexpectedToken},
			{"=1*", MissingOperand},
			{"=-", MissingOperand},
			{"=A0", InvalidReference},
			{"=A1:", InvalidReference},
			{"=ZZZZZZZZZZZZZZZ1", InvalidReference},
		}
		for _, c := range cases {
			NewEngineTestCase(t, c.text).
				SetRejected("A1", c.text, c.kind).
				AssertErr("A1", c.kind, "#ERROR!").
				AssertRaw("A1", "").
				AssertEmpty("A1").
				End()
		}
	})

	t.Run("PositionIncludesPrefix", func(t *testing.T) {
		engine, err := New()
		require.NoError(t, err)
		err = engine.SetCellRef("A1", "=1+")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "position 3")
	})
}

func TestBasicTypes(t *testing.T) {
	NewEngineTestCase(t, "Numbers").
		Set("A1", "42").
		Set("A2", "-3.5").
		Set("A3", " 12 ").
		Set("A4", "1e3").
		AssertNumber("A1", 42).
		AssertNumber("A2", -3.5).
		AssertNumber("A3", 12).
		AssertRaw("A3", " 12 ").
		AssertNumber("A4", 1000).
		End()

	NewEngineTestCase(t, "Text").
		Set("A1", "hello").
		Set("A2", "12abc").
		AssertText("A1", "hello").
		AssertText("A2", "12abc").
		End()

	NewEngineTestCase(t, "Literal booleans stay text").
		Set("A1", "TRUE").
		AssertText("A1", "TRUE").
		AssertDisplay("A1", "TRUE").
		End()

	NewEngineTestCase(t, "Formula literals").
		Set("A1", "=TRUE").
		Set("A2", "=false").
		Set("A3", `="text"`).
		Set("A4", "=.5+.5").
		Set("A5", "=2E-1").
		Set("A6", `="say ""hi"""`).
		AssertBool("A1", true).
		AssertBool("A2", false).
		AssertText("A3", "text").
		AssertNumber("A4", 1).
		AssertNumber("A5", 0.2).
		AssertText("A6", `say "hi"`).
		End()

	NewEngineTestCase(t, "Unwritten cell").
		AssertEmpty("Z99").
		AssertDisplay("Z99", "").
		AssertRaw("Z99", "").
		AssertNoErr("Z99").
		End()
}

func TestBinaryOperators(t *testing.T) {
	NewEngineTestCase(t, "Arithmetic").
		Set("A1", "=7+3").
		Set("A2", "=7-3").
		Set("A3", "=7*3").
		Set("A4", "=7/2").
		Set("A5", "=2^10").
		AssertNumber("A1", 10).
		AssertNumber("A2", 4).
		AssertNumber("A3", 21).
		AssertNumber("A4", 3.5).
		AssertNumber("A5", 1024).
		End()

	NewEngineTestCase(t, "Precedence").
		Set("A1", "=2+3*4").
		Set("A2", "=(2+3)*4").
		Set("A3", "=10-4-3").
		Set("A4", "=100/10/5").
		Set("A5", "=2^3^2").
		Set("A6", "=-2^2").
		Set("A7", "=1+2&3").
		Set("A8", "=1+2=3").
		AssertNumber("A1", 14).
		AssertNumber("A2", 20).
		AssertNumber("A3", 3).
		AssertNumber("A4", 2).
		AssertNumber("A5", 512).
		AssertNumber("A6", -4).
		AssertText("A7", "33").
		AssertBool("A8", true).
		End()

	NewEngineTestCase(t, "Concatenation").
		Set("A1", "x").
		Set("A2", `=A1&"-"&1.5`).
		Set("A3", `=TRUE&A9`).
		AssertText("A2", "x-1.5").
		AssertText("A3", "TRUE").
		End()

	NewEngineTestCase(t, "Comparisons").
		Set("A1", `="abc"="ABC"`).
		Set("A2", `="a"<"b"`).
		Set("A3", `=1<"a"`).
		Set("A4", `="a"<TRUE`).
		Set("A5", "=Z1=0").
		Set("A6", `=Z1=""`).
		Set("A7", "=2<>2").
		Set("A8", "=3>=3").
		Set("A9", "=FALSE<TRUE").
		AssertBool("A1", true).
		AssertBool("A2", true).
		AssertBool("A3", true).
		AssertBool("A4", true).
		AssertBool("A5", true).
		AssertBool("A6", true).
		AssertBool("A7", false).
		AssertBool("A8", true).
		AssertBool("A9", true).
		End()

	NewEngineTestCase(t, "Coercion").
		Set("A1", "3").
		Set("A2", `="4"`).
		Set("A3", "=A1*A2").
		Set("A4", "=TRUE+1").
		Set("A5", "=Z1+5").
		AssertNumber("A3", 12).
		AssertNumber("A4", 2).
		AssertNumber("A5", 5).
		End()
}

func TestUnaryOperators(t *testing.T) {
	NewEngineTestCase(t, "Negation and plus").
		Set("A1", "5").
		Set("A2", "=-A1").
		Set("A3", "=+A1").
		Set("A4", "=--A1").
		Set("A5", "=2*-3").
		Set("A6", "=2^-1").
		Set("A7", "=-2+3").
		AssertNumber("A2", -5).
		AssertNumber("A3", 5).
		AssertNumber("A4", 5).
		AssertNumber("A5", -6).
		AssertNumber("A6", 0.5).
		AssertNumber("A7", 1).
		End()

	NewEngineTestCase(t, "Negating text").
		Set("A1", `=-"a"`).
		AssertErr("A1", TypeMismatch, "#VALUE!").
		End()
}

func TestAggregationFunctions(t *testing.T) {
	NewEngineTestCase(t, "Ranges skip text and empties").
		Set("A1", "1").
		Set("A2", "2").
		Set("A3", "x").
		Set("B1", "=SUM(A1:A4)").
		Set("B2", "=AVERAGE(A1:A4)").
		Set("B3", "=MIN(A1:A4)").
		Set("B4", "=MAX(A1:A4)").
		Set("B5", "=COUNT(A1:A4)").
		Set("B6", "=COUNTA(A1:A4)").
		AssertNumber("B1", 3).
		AssertNumber("B2", 1.5).
		AssertNumber("B3", 1).
		AssertNumber("B4", 2).
		AssertNumber("B5", 2).
		AssertNumber("B6", 3).
		End()

	NewEngineTestCase(t, "Scalar arguments").
		Set("A1", "=SUM(1,2,3)").
		Set("A2", `=SUM("4",TRUE)`).
		Set("A3", `=COUNT(1,"2","x",TRUE)`).
		Set("A4", "=MAX(-1,-5)").
		Set("A5", `=SUM("x")`).
		AssertNumber("A1", 6).
		AssertNumber("A2", 5).
		AssertNumber("A3", 3).
		AssertNumber("A4", -1).
		AssertErr("A5", TypeMismatch, "#VALUE!").
		End()

	NewEngineTestCase(t, "No numbers").
		Set("A1", "=AVERAGE(Z1:Z3)").
		Set("A2", "=MIN(Z1:Z3)").
		Set("A3", "=MAX(Z1:Z3)").
		Set("A4", "=SUM(Z1:Z3)").
		AssertErr("A1", DivideByZero, "#DIV/0!").
		AssertNumber("A2", 0).
		AssertNumber("A3", 0).
		AssertNumber("A4", 0).
		End()

	NewEngineTestCase(t, "Reversed range").
		Set("A1", "1").
		Set("B2", "2").
		Set("C1", "=SUM(B2:A1)").
		AssertNumber("C1", 3).
		End()

	NewEngineTestCase(t, "Errors in ranges").
		Set("A1", "=1/0").
		Set("A2", "5").
		Set("B1", "=SUM(A1:A2)").
		Set("B2", "=COUNTA(A1:A2)").
		AssertErr("B1", PropagatedError, "#DIV/0!").
		AssertNumber("B2", 2).
		End()

	NewEngineTestCase(t, "Single references skip text like ranges").
		Set("A1", "hello").
		Set("A2", "4").
		Set("B1", "=SUM(A1)").
		Set("B2", "=SUM(A1:A1)").
		Set("B3", "=SUM(A1,A2,1)").
		Set("B4", "=COUNT(A1,A2)").
		Set("B5", "=AVERAGE(A1,A2)").
		Set("B6", `=SUM("hello")`).
		AssertNumber("B1", 0).
		AssertNumber("B2", 0).
		AssertNumber("B3", 5).
		AssertNumber("B4", 1).
		AssertNumber("B5", 4).
		AssertErr("B6", TypeMismatch, "#VALUE!").
		End()
}

func TestLogicalFunctions(t *testing.T) {
	NewEngineTestCase(t, "IF").
		Set("A1", `=IF(1<2,"yes","no")`).
		Set("A2", `=IF(1>2,"yes","no")`).
		Set("A3", `=IF(1>2,"yes")`).
		Set("A4", `=IF("x",1,2)`).
		AssertText("A1", "yes").
		AssertText("A2", "no").
		AssertBool("A3", false).
		AssertErr("A4", TypeMismatch, "#VALUE!").
		End()

	NewEngineTestCase(t, "AND OR NOT").
		Set("A1", "=AND(TRUE,1)").
		Set("A2", "=AND(TRUE,0)").
		Set("A3", "=OR(FALSE,0)").
		Set("A4", "=OR(FALSE,2)").
		Set("A5", "=NOT(0)").
		Set("A6", `=AND("x")`).
		Set("A7", "=OR(Z1:Z2)").
		AssertBool("A1", true).
		AssertBool("A2", false).
		AssertBool("A3", false).
		AssertBool("A4", true).
		AssertBool("A5", true).
		AssertErr("A6", TypeMismatch, "#VALUE!").
		AssertErr("A7", TypeMismatch, "#VALUE!").
		End()

	NewEngineTestCase(t, "Error functions").
		Set("A1", "=1/0").
		Set("A2", `=IFERROR(A1,"oops")`).
		Set("A3", "=IFERROR(5,0)").
		Set("A4", "=ISERROR(A1)").
		Set("A5", "=ISERROR(1)").
		Set("A6", "=ISBLANK(Z9)").
		Set("A7", "=ISBLANK(A3)").
		AssertText("A2", "oops").
		AssertNumber("A3", 5).
		AssertBool("A4", true).
		AssertBool("A5", false).
		AssertBool("A6", true).
		AssertBool("A7", false).
		End()
}

func TestTextFunctions(t *testing.T) {
	NewEngineTestCase(t, "Text").
		Set("A1", `=CONCATENATE("a",1,TRUE)`).
		Set("A2", `=LEN("héllo")`).
		Set("A3", `=UPPER("abc")`).
		Set("A4", `=LOWER("ÀBC")`).
		Set("A5", `=TRIM("  a   b ")`).
		Set("A6", `=LEN(Z1)`).
		AssertText("A1", "a1TRUE").
		AssertNumber("A2", 5).
		AssertText("A3", "ABC").
		AssertText("A4", "àbc").
		AssertText("A5", "a b").
		AssertNumber("A6", 0).
		End()
}

func TestMathFunctions(t *testing.T) {
	NewEngineTestCase(t, "Math").
		Set("A1", "=PI()").
		Set("A2", "=SQRT(16)").
		Set("A3", "=ABS(-2)").
		Set("A4", "=FLOOR(2.7)").
		Set("A5", "=CEILING(2.1)").
		Set("A6", "=LOG(100)").
		Set("A7", "=LOG(8,2)").
		Set("A8", "=LN(EXP(1))").
		Set("A9", "=LOG10(1000)").
		Set("B1", "=POWER(2,3)").
		Set("B2", "=MOD(-3,2)").
		Set("B3", "=MOD(3,-2)").
		Set("B4", "=ROUND(2.5)").
		Set("B5", "=ROUND(-2.5)").
		Set("B6", "=ROUND(1234.5678,-2)").
		Set("B7", "=ATAN2(1,1)").
		Set("B8", "=SIN(0)+COS(0)").
		AssertNumber("A1", math.Pi).
		AssertNumber("A2", 4).
		AssertNumber("A3", 2).
		AssertNumber("A4", 2).
		AssertNumber("A5", 3).
		AssertNumber("A6", 2).
		AssertNumber("A7", 3).
		AssertNumber("A8", 1).
		AssertNumber("A9", 3).
		AssertNumber("B1", 8).
		AssertNumber("B2", 1).
		AssertNumber("B3", -1).
		AssertNumber("B4", 3).
		AssertNumber("B5", -3).
		AssertNumber("B6", 1200).
		AssertNumber("B7", math.Pi/4).
		AssertNumber("B8", 1).
		End()

	NewEngineTestCase(t, "Domain errors").
		Set("A1", "=SQRT(-1)").
		Set("A2", "=LOG(0)").
		Set("A3", "=LOG(10,1)").
		Set("A4", "=MOD(1,0)").
		Set("A5", "=ATAN2(0,0)").
		Set("A6", "=POWER(0,-1)").
		Set("A7", "=0^-1").
		Set("A8", "=1e308*10").
		AssertErr("A1", InvalidNumber, "#NUM!").
		AssertErr("A2", InvalidNumber, "#NUM!").
		AssertErr("A3", DivideByZero, "#DIV/0!").
		AssertErr("A4", DivideByZero, "#DIV/0!").
		AssertErr("A5", DivideByZero, "#DIV/0!").
		AssertErr("A6", DivideByZero, "#DIV/0!").
		AssertErr("A7", DivideByZero, "#DIV/0!").
		AssertErr("A8", InvalidNumber, "#NUM!").
		End()
}

func TestFunctionArgumentValidation(t *testing.T) {
	NewEngineTestCase(t, "Arguments").
		Set("A1", "=SIN(1,2)").
		Set("A2", "=PI(1)").
		Set("A3", "=IF(TRUE)").
		Set("A4", "=FOO(1)").
		Set("A5", "=ABS(A1:A2)").
		Set("A6", "=B1:C2").
		AssertErr("A1", ArgumentCount, "#N/A").
		AssertErr("A2", ArgumentCount, "#N/A").
		AssertErr("A3", ArgumentCount, "#N/A").
		AssertErr("A4", UnknownFunction, "#NAME?").
		AssertErr("A5", TypeMismatch, "#VALUE!").
		AssertErr("A6", TypeMismatch, "#VALUE!").
		End()

	NewEngineTestCase(t, "Range limit", WithMaxRangeCells(10)).
		Set("A1", "=SUM(B1:B10)").
		SetRejected("A2", "=SUM(B1:B11)", RangeTooLarge).
		AssertErr("A2", RangeTooLarge, "#ERROR!").
		End()
}

func TestErrorPropagation(t *testing.T) {
	NewEngineTestCase(t, "Chain").
		Set("A1", "=1/0").
		Set("A2", "=A1+1").
		Set("A3", "=A2*2").
		AssertErr("A1", DivideByZero, "#DIV/0!").
		AssertErr("A2", PropagatedError, "#DIV/0!").
		AssertErr("A3", PropagatedError, "#DIV/0!").
		End()

	t.Run("Origin is kept", func(t *testing.T) {
		engine, err := New()
		require.NoError(t, err)
		require.NoError(t, engine.SetCellRef("A1", `="x"*2`))
		require.NoError(t, engine.SetCellRef("A2", "=A1"))
		require.NoError(t, engine.SetCellRef("A3", "=A2"))

		v := engine.Value(MustParseAddress("A3"))
		require.True(t, v.IsError())
		assert.Equal(t, PropagatedError, v.Err.Kind)
		assert.Equal(t, TypeMismatch, v.Err.Origin)
		assert.Equal(t, MustParseAddress("A1"), v.Err.Source)

		cellErr := engine.Error(MustParseAddress("A3"))
		require.NotNil(t, cellErr)
		assert.Equal(t, TypeMismatch, cellErr.Origin)
		assert.Equal(t, "#VALUE!", cellErr.Code())
	})

	NewEngineTestCase(t, "Recovery").
		Set("A1", "=1/0").
		Set("A2", "=A1+1").
		Set("A1", "2").
		AssertNumber("A2", 3).
		AssertNoErr("A2").
		AssertNoErr("A1").
		End()
}

func TestCircularReferences(t *testing.T) {
	NewEngineTestCase(t, "Self reference").
		SetRejected("A1", "=A1", CircularReference).
		AssertErr("A1", CircularReference, "#REF!").
		AssertEmpty("A1").
		End()

	NewEngineTestCase(t, "Two cells").
		Set("A1", "=B1").
		SetRejected("B1", "=A1", CircularReference).
		AssertErr("B1", CircularReference, "#REF!").
		AssertRaw("B1", "").
		AssertNumber("A1", 0).
		AssertDisplay("A1", "0").
		End()

	NewEngineTestCase(t, "Through a range").
		Set("A2", "1").
		SetRejected("A1", "=SUM(A1:A3)", CircularReference).
		End()

	NewEngineTestCase(t, "Prior formula survives").
		Set("A1", "=1").
		Set("B1", "=A1").
		Set("C1", "=B1").
		SetRejected("A1", "=C1", CircularReference).
		AssertNumber("A1", 1).
		AssertRaw("A1", "=1").
		AssertDisplay("A1", "#REF!").
		AssertNumber("C1", 1).
		Set("A1", "=2").
		AssertDisplay("A1", "2").
		AssertNumber("C1", 2).
		End()

	t.Run("Graph is unchanged", func(t *testing.T) {
		engine, err := New()
		require.NoError(t, err)
		require.NoError(t, engine.SetCellRef("A1", "=D1"))
		require.NoError(t, engine.SetCellRef("B1", "=A1"))
		require.Error(t, engine.SetCellRef("A1", "=B1"))

		assert.Equal(t, []Address{MustParseAddress("D1")}, engine.Precedents(MustParseAddress("A1")))
		assert.Equal(t, []Address{MustParseAddress("B1")}, engine.Dependents(MustParseAddress("A1")))
		assert.Empty(t, engine.Dependents(MustParseAddress("B1")))
	})
}

func TestRejectedWrites(t *testing.T) {
	NewEngineTestCase(t, "Keeps prior content").
		Set("A1", "5").
		SetRejected("A1", "=(1", UnbalancedParens).
		AssertNumber("A1", 5).
		AssertRaw("A1", "5").
		AssertDisplay("A1", "#ERROR!").
		End()

	NewEngineTestCase(t, "Accepted write clears it").
		Set("A1", "5").
		SetRejected("A1", "=(1", UnbalancedParens).
		Set("A1", "6").
		AssertDisplay("A1", "6").
		AssertNoErr("A1").
		End()

	NewEngineTestCase(t, "Identical text after rejection is applied").
		Set("A1", "5").
		SetRejected("A1", "=1+", MissingOperand).
		Set("A1", "5").
		AssertDisplay("A1", "5").
		AssertNoErr("A1").
		End()

	NewEngineTestCase(t, "Clear removes it").
		SetRejected("B1", "=B1", CircularReference).
		Clear("B1").
		AssertDisplay("B1", "").
		AssertNoErr("B1").
		End()

	NewEngineTestCase(t, "Recalculation as a dependent removes it").
		Set("A1", "1").
		Set("B1", "=A1").
		SetRejected("B1", "=B1", CircularReference).
		AssertDisplay("B1", "#REF!").
		Set("A1", "2").
		AssertDisplay("B1", "2").
		AssertNoErr("B1").
		End()

	t.Run("Invalid addresses", func(t *testing.T) {
		engine, err := New()
		require.NoError(t, err)

		var appErr *AppError
		require.ErrorAs(t, engine.SetCell(Address{}, "1"), &appErr)
		assert.Equal(t, InvalidArgument, appErr.Code)
		require.ErrorAs(t, engine.SetCellRef("1A", "1"), &appErr)
		assert.Equal(t, InvalidArgument, appErr.Code)
	})
}

func TestUpdateAndRecalculation(t *testing.T) {
	NewEngineTestCase(t, "Chain").
		Set("A1", "1").
		Set("A2", "=A1*2").
		Set("A3", "=A2+A1").
		AssertNumber("A3", 3).
		Set("A1", "5").
		AssertNumber("A2", 10).
		AssertNumber("A3", 15).
		End()

	NewEngineTestCase(t, "Diamond").
		Set("A1", "1").
		Set("B1", "=A1+1").
		Set("C1", "=A1*10").
		Set("D1", "=B1+C1").
		AssertNumber("D1", 12).
		Set("A1", "2").
		AssertNumber("D1", 23).
		End()

	NewEngineTestCase(t, "Formula written before its inputs").
		Set("C1", "=A1+B1").
		AssertNumber("C1", 0).
		Set("A1", "2").
		Set("B1", "3").
		AssertNumber("C1", 5).
		End()

	NewEngineTestCase(t, "Range dependents").
		Set("B1", "=SUM(A1:A3)").
		Set("A2", "5").
		AssertNumber("B1", 5).
		Set("A3", "=A2*2").
		AssertNumber("B1", 15).
		End()

	NewEngineTestCase(t, "Clear").
		Set("A1", "5").
		Set("B1", "=A1+1").
		AssertNumber("B1", 6).
		Clear("A1").
		AssertEmpty("A1").
		AssertDisplay("A1", "").
		AssertNumber("B1", 1).
		End()

	NewEngineTestCase(t, "Empty text clears").
		Set("A1", "5").
		Set("B1", "=A1").
		Set("A1", "").
		AssertEmpty("A1").
		AssertNumber("B1", 0).
		End()

	NewEngineTestCase(t, "Formula replaced by literal").
		Set("A1", "1").
		Set("B1", "=A1").
		Set("B1", "7").
		Set("A1", "2").
		AssertNumber("B1", 7).
		End()

	t.Run("Replacing a formula drops its edges", func(t *testing.T) {
		engine, err := New()
		require.NoError(t, err)
		require.NoError(t, engine.SetCellRef("B1", "=A1"))
		require.NoError(t, engine.SetCellRef("B1", "7"))
		assert.Empty(t, engine.Dependents(MustParseAddress("A1")))
		assert.Empty(t, engine.Precedents(MustParseAddress("B1")))
	})

	t.Run("Precedents are deduplicated", func(t *testing.T) {
		engine, err := New()
		require.NoError(t, err)
		require.NoError(t, engine.SetCellRef("C1", "=A1+B1+A1"))
		assert.Equal(t, []Address{MustParseAddress("A1"), MustParseAddress("B1")},
			engine.Precedents(MustParseAddress("C1")))
		assert.Equal(t, []Address{MustParseAddress("C1")}, engine.Dependents(MustParseAddress("A1")))
	})
}

func TestDisplayValues(t *testing.T) {
	NewEngineTestCase(t, "Canonical numbers").
		Set("A1", "=0.1+0.2").
		Set("A2", "=1/3").
		Set("A3", "=1e21").
		Set("A4", "=-0").
		Set("A5", "=1e-10").
		Set("A6", "=3*1").
		Set("A7", "=1<2").
		Set("A8", "=Z1").
		AssertDisplay("A1", "0.3").
		AssertDisplay("A2", "0.333333333333333").
		AssertDisplay("A3", "1E+21").
		AssertDisplay("A4", "0").
		AssertDisplay("A5", "1E-10").
		AssertDisplay("A6", "3").
		AssertDisplay("A7", "TRUE").
		AssertDisplay("A8", "0").
		End()

	NewEngineTestCase(t, "Number format", WithNumberFormat("0.00")).
		Set("A1", "3.14159").
		Set("A2", "=-1.5").
		Set("A3", "text").
		AssertDisplay("A1", "3.14").
		AssertDisplay("A2", "-1.50").
		AssertDisplay("A3", "text").
		AssertNumber("A1", 3.14159).
		End()

	NewEngineTestCase(t, "Alternate prefix", WithFormulaPrefix("@")).
		Set("A1", "@1+1").
		Set("A2", "=1+1").
		AssertNumber("A1", 2).
		AssertText("A2", "=1+1").
		End()
}

func TestUnicodeAndSpecialCharacters(t *testing.T) {
	NewEngineTestCase(t, "Unicode").
		Set("A1", `="Hello 世界"`).
		Set("A2", `=CONCATENATE("Test ", "😀")`).
		Set("A3", "naïve").
		Set("A4", `=LEN(A1)`).
		AssertText("A1", "Hello 世界").
		AssertText("A2", "Test 😀").
		AssertText("A3", "naïve").
		AssertNumber("A4", 8).
		End()
}

func TestEngineOptions(t *testing.T) {
	_, err := New(WithFormulaPrefix("=="))
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, InvalidArgument, appErr.Code)

	_, err = New(WithMaxRangeCells(0))
	require.Error(t, err)

	engine, err := New(WithParseCacheSize(0), WithLogger(nil), WithFunctions(nil))
	require.NoError(t, err)
	require.NoError(t, engine.SetCellRef("A1", "=1+1"))
	assert.Equal(t, 0, engine.Stats().CachedParses)

	fns := NewDefaultBuiltInFunctions()
	fns.Register("double", Function{MinArgs: 1, MaxArgs: 1, Impl: func(args []Arg) Value {
		x, err := toNumber(args[0].Value)
		if err != nil {
			return ErrorValue(err)
		}
		return NumberValue(2 * x)
	}})
	engine, err = New(WithFunctions(fns))
	require.NoError(t, err)
	require.NoError(t, engine.SetCellRef("A1", "=DOUBLE(21)"))
	assert.Equal(t, NumberValue(42), engine.Value(MustParseAddress("A1")))
}

func TestStats(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)
	require.NoError(t, engine.SetCellRef("A1", "1"))
	require.NoError(t, engine.SetCellRef("A2", "=A1+1"))
	require.NoError(t, engine.SetCellRef("A3", "=1/0"))
	require.Error(t, engine.SetCellRef("B1", "=(")) // never populated

	st := engine.Stats()
	assert.Equal(t, 3, st.Cells)
	assert.Equal(t, 2, st.Formulas)
	assert.Equal(t, 2, st.Errors)
	assert.Equal(t, 2, st.GraphNodes)
	assert.Equal(t, 1, st.GraphEdges)
	assert.Equal(t, 2, st.CachedParses)
}

func TestClone(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)
	require.NoError(t, engine.SetCellRef("A1", "1"))
	require.NoError(t, engine.SetCellRef("A2", "=A1*2"))
	require.Error(t, engine.SetCellRef("B1", "=B1"))

	clone, err := engine.Clone()
	require.NoError(t, err)
	assert.NotEqual(t, engine.ID(), clone.ID())
	assert.Equal(t, "#REF!", clone.DisplayValue(MustParseAddress("B1")))

	require.NoError(t, clone.SetCellRef("A1", "5"))
	assert.Equal(t, NumberValue(10), clone.Value(MustParseAddress("A2")))
	assert.Equal(t, NumberValue(2), engine.Value(MustParseAddress("A2")))
	assert.Equal(t, []Address{MustParseAddress("A2")}, clone.Dependents(MustParseAddress("A1")))
}

func TestCloneLogsUnderItsOwnID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	engine, err := New(WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NoError(t, engine.SetCellRef("A1", "1"))

	clone, err := engine.Clone()
	require.NoError(t, err)
	require.Error(t, clone.SetCellRef("B1", "=B1"))

	rejected := logs.FilterMessage("write rejected").All()
	require.Len(t, rejected, 1)
	fields := rejected[0].ContextMap()
	assert.Equal(t, clone.ID().String(), fields["sheet"])
	assert.NotContains(t, fields, "clone")

	cloned := logs.FilterMessage("engine cloned").All()
	require.Len(t, cloned, 1)
	assert.Equal(t, engine.ID().String(), cloned[0].ContextMap()["sheet"])
	assert.Equal(t, clone.ID().String(), cloned[0].ContextMap()["clone"])
}

func TestConcurrentAccess(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)
	require.NoError(t, engine.SetCellRef("A1", "1"))

	var wg sync.WaitGroup
	for g := 1; g <= 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			assert.NoError(t, engine.SetCellRef(fmt.Sprintf("B%d", g), fmt.Sprintf("=A1+%d", g)))
			_ = engine.DisplayValue(MustParseAddress("A1"))
			for range engine.ExportRows() {
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, engine.SetCellRef("C1", "=SUM(B1:B10)"))
	assert.Equal(t, NumberValue(65), engine.Value(MustParseAddress("C1")))
	require.NoError(t, engine.SetCellRef("A1", "2"))
	assert.Equal(t, NumberValue(75), engine.Value(MustParseAddress("C1")))
}

func TestComplexRealWorldScenarios(t *testing.T) {
	NewEngineTestCase(t, "Invoice").
		Set("A1", "Item").
		Set("B1", "Qty").
		Set("C1", "Price").
		Set("D1", "Total").
		Set("A2", "Widget").
		Set("B2", "3").
		Set("C2", "2.5").
		Set("D2", "=B2*C2").
		Set("A3", "Gadget").
		Set("B3", "2").
		Set("C3", "10").
		Set("D3", "=B3*C3").
		Set("D4", "=SUM(D2:D3)").
		Set("D5", `=IF(D4>25,"bulk","retail")`).
		Set("D6", `="Total: "&D4`).
		AssertNumber("D4", 27.5).
		AssertText("D5", "bulk").
		AssertText("D6", "Total: 27.5").
		Set("B2", "1").
		AssertNumber("D4", 22.5).
		AssertText("D5", "retail").
		End()

	NewEngineTestCase(t, "Grade book").
		Set("A1", "90").
		Set("A2", "72").
		Set("A3", "85").
		Set("B1", "=AVERAGE(A1:A3)").
		Set("B2", "=ROUND(B1,1)").
		Set("B3", `=IF(B1>=80,"pass","fail")`).
		Set("B4", "=MAX(A1:A3)-MIN(A1:A3)").
		AssertNumber("B2", 82.3).
		AssertText("B3", "pass").
		AssertNumber("B4", 18).
		End()
}

func TestRoundExtremePlaces(t *testing.T) {
	NewEngineTestCase(t, "Places beyond float precision").
		Set("A1", "=ROUND(1.5, 400)").
		Set("A2", "=ROUND(1.5, 308)").
		Set("A3", "=ROUND(1e300, 300)").
		Set("A4", "=ROUND(12345, -400)").
		Set("A5", "=ROUND(12345, -2)").
		Set("A6", "=ROUND(-2.5, 0)").
		AssertNumber("A1", 1.5).
		AssertNumber("A2", 1.5).
		AssertDisplay("A3", "1E+300").
		AssertNumber("A4", 0).
		AssertNumber("A5", 12300).
		AssertNumber("A6", -3).
		End()
}

func TestIdenticalWritesChangeNothing(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)
	cells := map[string]string{
		"A1": "3",
		"A2": "=A1*2",
		"A3": "=SUM(A1:A2)",
		"B1": "label",
		"B2": "=A3/0",
		"B3": "=IFERROR(B2, A3)",
	}
	for ref, text := range cells {
		require.NoError(t, engine.SetCellRef(ref, text))
	}

	snapshot := func() (map[string]Value, map[string][]Address, Stats) {
		values := make(map[string]Value, len(cells))
		precedents := make(map[string][]Address, len(cells))
		for ref := range cells {
			addr := MustParseAddress(ref)
			values[ref] = engine.Value(addr)
			precedents[ref] = engine.Precedents(addr)
		}
		st := engine.Stats()
		st.CacheHits, st.CacheMisses = 0, 0
		return values, precedents, st
	}
	wantValues, wantPrecedents, wantStats := snapshot()

	for round := 0; round < 2; round++ {
		for ref, text := range cells {
			require.NoError(t, engine.SetCellRef(ref, text))
		}
		values, precedents, st := snapshot()
		for ref, want := range wantValues {
			assert.Truef(t, want.Equal(values[ref]), "%s: want %v, got %v", ref, want, values[ref])
		}
		assert.Equal(t, wantPrecedents, precedents)
		assert.Equal(t, wantStats, st)
	}
}

// randomEdit returns a write, or "" for a clear, over a small grid so that
// references, ranges and cycles collide often
func randomEdit(rng *rand.Rand, refs []string) string {
	pick := func() string { return refs[rng.Intn(len(refs))] }
	switch rng.Intn(10) {
	case 0:
		return ""
	case 1, 2, 3:
		return fmt.Sprintf("%d", rng.Intn(21)-10)
	case 4:
		return fmt.Sprintf("=%s+%s", pick(), pick())
	case 5:
		return fmt.Sprintf("=SUM(%s:%s)", pick(), pick())
	case 6:
		return fmt.Sprintf("=%s*2-%s", pick(), pick())
	case 7:
		return fmt.Sprintf("=IF(%s>%s,%s,1)", pick(), pick(), pick())
	case 8:
		return fmt.Sprintf("=%s/%s", pick(), pick())
	}
	return fmt.Sprintf(`=CONCATENATE(%s,"x")`, pick())
}

func TestIncrementalMatchesRebuild(t *testing.T) {
	var refs []string
	for row := 1; row <= 5; row++ {
		for col := 1; col <= 5; col++ {
			refs = append(refs, Address{Col: col, Row: row}.String())
		}
	}

	rng := rand.New(rand.NewSource(7))
	engine, err := New()
	require.NoError(t, err)

	for step := 1; step <= 600; step++ {
		ref := refs[rng.Intn(len(refs))]
		if text := randomEdit(rng, refs); text == "" {
			engine.ClearCell(MustParseAddress(ref))
		} else {
			// cycles are refused and leave the prior content in place
			_ = engine.SetCellRef(ref, text)
		}
		if step%20 != 0 {
			continue
		}

		rebuilt, err := New()
		require.NoError(t, err)
		for _, r := range refs {
			if raw := engine.RawContent(MustParseAddress(r)); raw != "" {
				require.NoError(t, rebuilt.SetCellRef(r, raw), "replaying %s = %q", r, raw)
			}
		}
		for _, r := range refs {
			addr := MustParseAddress(r)
			want, got := rebuilt.Value(addr), engine.Value(addr)
			require.Truef(t, want.Equal(got), "step %d, %s = %q: rebuilt %v, incremental %v",
				step, r, engine.RawContent(addr), want, got)
		}
	}
}
