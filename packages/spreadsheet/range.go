package spreadsheet

import (
	"fmt"
	"iter"
	"strings"
)

// Range is a rectangular block of cells. Start is the top-left corner and End
// the bottom-right one after normalization.
type Range struct {
	Start Address
	End   Address
}

// NewRange creates a normalized range from two opposite corners, in any
// order
func NewRange(a, b Address) Range {
	return Range{
		Start: Address{Col: min(a.Col, b.Col), Row: min(a.Row, b.Row)},
		End:   Address{Col: max(a.Col, b.Col), Row: max(a.Row, b.Row)},
	}
}

// ParseRange parses "A1:B3"
func ParseRange(ref string) (Range, error) {
	start, end, ok := strings.Cut(ref, ":")
	if !ok {
		return Range{}, fmt.Errorf("invalid range %q", ref)
	}
	a, err := ParseAddress(start)
	if err != nil {
		return Range{}, err
	}
	b, err := ParseAddress(end)
	if err != nil {
		return Range{}, err
	}
	return NewRange(a, b), nil
}

func (r Range) String() string { return r.Start.String() + ":" + r.End.String() }

// Size returns the number of cells in the range, saturating instead of
// overflowing
func (r Range) Size() int {
	rows := r.End.Row - r.Start.Row + 1
	cols := r.End.Col - r.Start.Col + 1
	if rows <= 0 || cols <= 0 {
		return 0
	}
	if rows > int(^uint(0)>>1)/cols {
		return int(^uint(0) >> 1)
	}
	return rows * cols
}

// Contains reports whether addr lies inside the range
func (r Range) Contains(addr Address) bool {
	return addr.Row >= r.Start.Row && addr.Row <= r.End.Row &&
		addr.Col >= r.Start.Col && addr.Col <= r.End.Col
}

// Cells returns an iterator over all addresses in the range, row-major
func (r Range) Cells() iter.Seq[Address] {
	return func(yield func(Address) bool) {
		for row := r.Start.Row; row <= r.End.Row; row++ {
			for col := r.Start.Col; col <= r.End.Col; col++ {
				if !yield(Address{Col: col, Row: row}) {
					return
				}
			}
		}
	}
}

// Values returns an iterator over the values in the range as seen by
// resolver. unwritten cells yield EmptyValue.
func (r Range) Values(resolver Resolver) iter.Seq2[Address, Value] {
	return func(yield func(Address, Value) bool) {
		for addr := range r.Cells() {
			if !yield(addr, resolver.Resolve(addr)) {
				return
			}
		}
	}
}
