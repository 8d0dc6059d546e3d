package spreadsheet

import (
	"container/list"
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// DefaultParseCacheSize is the number of distinct formula texts kept parsed
const DefaultParseCacheSize = 1024

// FormulaTable is an LRU cache of parsed formulas keyed by expression text.
// it hands out deep copies, so no tree is ever shared between two cells.
type FormulaTable struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	lruList  *list.List

	hits   uint64
	misses uint64
}

// formulaEntry is one cached parse
type formulaEntry struct {
	text string
	tree *Node
}

// NewFormulaTable creates a new formula table holding up to capacity
// parsed formulas. a capacity of zero or less disables caching.
func NewFormulaTable(capacity int) *FormulaTable {
	return &FormulaTable{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Parse returns a tree for the expression text, reusing a cached parse when
// one exists. syntax errors are never cached.
func (ft *FormulaTable) Parse(text string) (*Node, error) {
	if tree, ok := ft.load(text); ok {
		return tree, nil
	}
	tree, err := ParseExpression(text)
	if err != nil {
		return nil, err
	}
	ft.store(text, tree)
	return tree, nil
}

func (ft *FormulaTable) load(text string) (*Node, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	elem, ok := ft.entries[text]
	if !ok {
		ft.misses++
		return nil, false
	}
	var tree *Node
	if err := deepcopy.Copy(&tree, elem.Value.(*formulaEntry).tree); err != nil || tree == nil {
		// an unusable copy is treated like a miss
		ft.misses++
		return nil, false
	}
	ft.lruList.MoveToFront(elem)
	ft.hits++
	return tree, true
}

// store keeps a private copy of tree so later edits by the caller cannot
// leak into the cache
func (ft *FormulaTable) store(text string, tree *Node) {
	if ft.capacity <= 0 {
		return
	}
	var private *Node
	if err := deepcopy.Copy(&private, tree); err != nil || private == nil {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	if elem, ok := ft.entries[text]; ok {
		ft.lruList.MoveToFront(elem)
		elem.Value.(*formulaEntry).tree = private
		return
	}
	if ft.lruList.Len() >= ft.capacity {
		if oldest := ft.lruList.Back(); oldest != nil {
			ft.lruList.Remove(oldest)
			delete(ft.entries, oldest.Value.(*formulaEntry).text)
		}
	}
	ft.entries[text] = ft.lruList.PushFront(&formulaEntry{text: text, tree: private})
}

// Count returns the number of cached formulas
func (ft *FormulaTable) Count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.lruList.Len()
}

// Stats returns cache hits and misses since creation
func (ft *FormulaTable) Stats() (hits, misses uint64) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.hits, ft.misses
}

// Clear drops every cached formula
func (ft *FormulaTable) Clear() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.entries = make(map[string]*list.Element)
	ft.lruList = list.New()
}
