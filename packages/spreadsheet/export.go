package spreadsheet

import (
	"iter"
)

// ExportRows yields every row from 1 to the last populated row, row-major.
// each row is padded with empty strings to the widest populated column.
// display strings are captured under the engine lock when ExportRows is
// called; rows are then built as the consumer pulls them, so the consumer
// may call back into the engine while iterating.
func (e *Engine) ExportRows() iter.Seq[[]string] {
	return e.export(e.displayLocked)
}

// ExportRawRows is ExportRows with raw cell input instead of display
// strings
func (e *Engine) ExportRawRows() iter.Seq[[]string] {
	return e.export(func(_ Address, cell *Cell) string { return cell.Raw })
}

func (e *Engine) export(render func(Address, *Cell) string) iter.Seq[[]string] {
	e.mu.Lock()
	maxRow, maxCol := e.storage.worksheet.Bounds()
	snapshot := make(map[Address]string, e.storage.worksheet.GetTotalCells())
	e.storage.worksheet.Ascend(func(addr Address, cell *Cell) bool {
		snapshot[addr] = render(addr, cell)
		return true
	})
	e.mu.Unlock()

	return func(yield func([]string) bool) {
		for row := 1; row <= maxRow; row++ {
			line := make([]string, maxCol)
			for col := 1; col <= maxCol; col++ {
				line[col-1] = snapshot[Address{Col: col, Row: row}]
			}
			if !yield(line) {
				return
			}
		}
	}
}
