package spreadsheet

import (
	"github.com/google/btree"
)

// btreeDegree is the branching factor of the populated-cell index
const btreeDegree = 32

// indexItem orders addresses row-major inside the B-tree
type indexItem Address

func (a indexItem) Less(than btree.Item) bool {
	return Address(a).Less(Address(than.(indexItem)))
}

// Worksheet is the sparse cell store.
//
// architecture:
//   - cells live in a map keyed by address for O(1) access
//   - a B-tree keeps populated addresses in row-major order for export and
//     for the last populated row
//   - a per-column population count gives the widest populated column
type Worksheet struct {
	cells     map[Address]*Cell
	index     *btree.BTree
	colCounts map[int]int
	maxCol    int
}

// NewWorksheet creates a new, empty worksheet
func NewWorksheet() *Worksheet {
	return &Worksheet{
		cells:     make(map[Address]*Cell),
		index:     btree.New(btreeDegree),
		colCounts: make(map[int]int),
	}
}

// GetCell retrieves the cell at addr, nil if it was never written or was
// cleared
func (w *Worksheet) GetCell(addr Address) *Cell {
	return w.cells[addr]
}

// SetCell stores cell at addr, indexing the address when it is new
func (w *Worksheet) SetCell(addr Address, cell *Cell) {
	if _, exists := w.cells[addr]; !exists {
		w.index.ReplaceOrInsert(indexItem(addr))
		w.colCounts[addr.Col]++
		w.maxCol = max(w.maxCol, addr.Col)
	}
	w.cells[addr] = cell
}

// RemoveCell drops the cell at addr from the store and the index
func (w *Worksheet) RemoveCell(addr Address) {
	if _, exists := w.cells[addr]; !exists {
		return
	}
	delete(w.cells, addr)
	w.index.Delete(indexItem(addr))

	w.colCounts[addr.Col]--
	if w.colCounts[addr.Col] > 0 {
		return
	}
	delete(w.colCounts, addr.Col)
	if addr.Col == w.maxCol {
		w.maxCol = 0
		for col := range w.colCounts {
			w.maxCol = max(w.maxCol, col)
		}
	}
}

// Resolve returns the cached value at addr, EmptyValue for unwritten cells
func (w *Worksheet) Resolve(addr Address) Value {
	if cell := w.cells[addr]; cell != nil {
		return cell.Value
	}
	return EmptyValue
}

// Ascend calls fn for every populated cell in row-major order until fn
// returns false
func (w *Worksheet) Ascend(fn func(addr Address, cell *Cell) bool) {
	w.index.Ascend(func(item btree.Item) bool {
		addr := Address(item.(indexItem))
		return fn(addr, w.cells[addr])
	})
}

// Bounds returns the last populated row and the widest populated column, or
// zeros for an empty sheet
func (w *Worksheet) Bounds() (maxRow, maxCol int) {
	if w.index.Len() == 0 {
		return 0, 0
	}
	last := Address(w.index.Max().(indexItem))
	return last.Row, w.maxCol
}

// GetTotalCells returns the number of populated cells
func (w *Worksheet) GetTotalCells() int {
	return len(w.cells)
}

// CellCounts returns how many populated cells hold formulas and how many are
// in an error state
func (w *Worksheet) CellCounts() (formulas, errors int) {
	for _, cell := range w.cells {
		if cell.IsFormula() {
			formulas++
		}
		if cell.Err != nil {
			errors++
		}
	}
	return formulas, errors
}
