package spreadsheet

// Storage holds references to shared tables needed by storage operations
type Storage struct {
	worksheet       *Worksheet
	formulas        *FormulaTable
	dependencyGraph *DependencyGraph
}

// NewStorage creates empty storage with a parse cache of the given size
func NewStorage(parseCacheSize int) *Storage {
	return &Storage{
		worksheet:       NewWorksheet(),
		formulas:        NewFormulaTable(parseCacheSize),
		dependencyGraph: NewDependencyGraph(),
	}
}

// precedentsOf lists every address tree reads. ranges expand to their
// cells and a range wider than maxRangeCells is rejected.
func precedentsOf(tree *Node, maxRangeCells int) ([]Address, error) {
	var cells []Address
	var err error
	tree.Walk(func(n *Node) {
		switch {
		case err != nil:
		case n.Kind == NodeReference:
			cells = append(cells, n.Ref)
		case n.Kind == NodeRange:
			r := n.Range()
			if maxRangeCells > 0 && r.Size() > maxRangeCells {
				err = newSyntaxError(RangeTooLarge, n.Pos, "range %s has %d cells, the limit is %d", r, r.Size(), maxRangeCells)
				return
			}
			for addr := range r.Cells() {
				cells = append(cells, addr)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return cells, nil
}

// rebuildGraph recreates every edge from the formula trees in the
// worksheet. the trees came from an acyclic graph, so no edge can be
// refused.
func (s *Storage) rebuildGraph(maxRangeCells int) error {
	s.dependencyGraph.Clear()
	var firstErr error
	s.worksheet.Ascend(func(addr Address, cell *Cell) bool {
		if !cell.IsFormula() {
			return true
		}
		refs, err := precedentsOf(cell.Tree, maxRangeCells)
		if err == nil {
			err = s.dependencyGraph.SetEdges(addr, refs)
		}
		if err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}
