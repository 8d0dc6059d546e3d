package spreadsheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/nfp"
)

// plain decimal notation is used for magnitudes in [minPlain, maxPlain)
const (
	minPlain        = 1e-9
	maxPlain        = 1e21
	significantDigs = 15
)

// FormatNumber renders a number canonically: at most 15 significant digits,
// no trailing zeros, -0 as 0, and exponent notation for very large or very
// small magnitudes
func FormatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', significantDigs, 64), 64)
	if err != nil {
		rounded = f
	}
	if rounded == 0 {
		return "0"
	}
	if abs := math.Abs(rounded); abs >= minPlain && abs < maxPlain {
		return strconv.FormatFloat(rounded, 'f', -1, 64)
	}
	return strconv.FormatFloat(rounded, 'E', -1, 64)
}

// NumberFormat is a parsed display format code such as "0.00", "#,##0" or
// "0.0%;(0.0%)". only digit placeholders, the decimal point, the thousands
// separator, percent and literal text are rendered. a section using anything
// else falls back to canonical formatting.
type NumberFormat struct {
	code     string
	sections []nfp.Section
}

// ParseNumberFormat parses a format code. an empty code yields nil, which
// formats canonically.
func ParseNumberFormat(code string) (*NumberFormat, error) {
	if code == "" {
		return nil, nil
	}
	p := nfp.NumberFormatParser()
	sections := p.Parse(code)
	if len(sections) == 0 {
		return nil, fmt.Errorf("invalid number format %q", code)
	}
	return &NumberFormat{code: code, sections: sections}, nil
}

func (nf *NumberFormat) String() string {
	if nf == nil {
		return ""
	}
	return nf.code
}

// Format renders f with the format. a second section formats negatives
// without their sign, a third formats zero.
func (nf *NumberFormat) Format(f float64) string {
	if nf == nil {
		return FormatNumber(f)
	}
	orig := f
	section := nf.sections[0]
	negative := f < 0
	switch {
	case f < 0 && len(nf.sections) > 1:
		section = nf.sections[1]
		f = -f
		negative = false
	case f == 0 && len(nf.sections) > 2:
		section = nf.sections[2]
	}
	out, ok := renderSection(section.Items, f)
	if !ok {
		return FormatNumber(orig)
	}
	if negative && strings.ContainsAny(out, "123456789") {
		return "-" + out
	}
	return out
}

// sectionLayout describes the digit placeholders of a section
type sectionLayout struct {
	intZeros   int  // mandatory integer digits
	fracZeros  int  // mandatory fraction digits
	fracHashes int  // optional fraction digits
	thousands  bool // group integer digits by three
	percent    bool // scale by 100
}

func layoutOf(items []nfp.Token) (sectionLayout, bool) {
	var l sectionLayout
	afterPoint := false
	for _, item := range items {
		switch item.TType {
		case nfp.TokenTypeZeroPlaceHolder:
			if afterPoint {
				l.fracZeros += l.fracHashes + len(item.TValue)
				l.fracHashes = 0
			} else {
				l.intZeros += len(item.TValue)
			}
		case nfp.TokenTypeHashPlaceHolder:
			if afterPoint {
				l.fracHashes += len(item.TValue)
			}
		case nfp.TokenTypeDecimalPoint:
			afterPoint = true
		case nfp.TokenTypeThousandsSeparator:
			if !afterPoint {
				l.thousands = true
			}
		case nfp.TokenTypePercent:
			l.percent = true
		case nfp.TokenTypeLiteral:
		default:
			return l, false
		}
	}
	return l, true
}

func renderSection(items []nfp.Token, f float64) (string, bool) {
	layout, ok := layoutOf(items)
	if !ok {
		return "", false
	}
	f = math.Abs(f)
	if layout.percent {
		f *= 100
	}
	number := formatDigits(f, layout)

	var sb strings.Builder
	emitted := false
	for _, item := range items {
		switch item.TType {
		case nfp.TokenTypeZeroPlaceHolder, nfp.TokenTypeHashPlaceHolder,
			nfp.TokenTypeDecimalPoint, nfp.TokenTypeThousandsSeparator:
			if !emitted {
				sb.WriteString(number)
				emitted = true
			}
		case nfp.TokenTypePercent:
			sb.WriteString("%")
		case nfp.TokenTypeLiteral:
			sb.WriteString(unquoteLiteral(item.TValue))
		}
	}
	return sb.String(), true
}

// formatDigits renders the absolute value according to the layout
func formatDigits(f float64, l sectionLayout) string {
	digits := l.fracZeros + l.fracHashes
	s := strconv.FormatFloat(f, 'f', digits, 64)
	intPart, fracPart, _ := strings.Cut(s, ".")

	// optional fraction digits disappear when they are trailing zeros
	for len(fracPart) > l.fracZeros && strings.HasSuffix(fracPart, "0") {
		fracPart = fracPart[:len(fracPart)-1]
	}
	if intPart == "0" && l.intZeros == 0 {
		intPart = ""
	}
	for len(intPart) < l.intZeros {
		intPart = "0" + intPart
	}
	if l.thousands {
		intPart = groupThousands(intPart)
	}
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	head := len(s) % 3
	if head > 0 {
		sb.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

func unquoteLiteral(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	if len(s) == 2 && s[0] == '\\' {
		return s[1:]
	}
	return s
}

// displayValue renders a computed value for display
func displayValue(v Value, nf *NumberFormat) string {
	if v.Type == ValueTypeNumber {
		return nf.Format(v.Number)
	}
	return v.String()
}
