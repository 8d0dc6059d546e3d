package spreadsheet

import (
	"fmt"
	"slices"
)

// addressSet is a set of cell addresses
type addressSet map[Address]struct{}

// sorted returns the set's members in row-major order
func (s addressSet) sorted() []Address {
	out := make([]Address, 0, len(s))
	for addr := range s {
		out = append(out, addr)
	}
	slices.SortFunc(out, compareAddresses)
	return out
}

func compareAddresses(a, b Address) int {
	if a.Row != b.Row {
		return cmpInt(a.Row, b.Row)
	}
	return cmpInt(a.Col, b.Col)
}

// DependencyGraph manages cell dependencies and calculation order. an edge
// A -> B means the formula at B reads A: A is a precedent of B and B is a
// dependent of A.
type DependencyGraph struct {
	precedents map[Address]addressSet // cell -> cells its formula reads
	dependents map[Address]addressSet // cell -> cells whose formulas read it
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		precedents: make(map[Address]addressSet),
		dependents: make(map[Address]addressSet),
	}
}

// SetEdges replaces every precedent of addr with targets. when the new edges
// close a cycle the previous precedents are restored and a
// CircularReference error is returned, leaving the graph unchanged.
func (dg *DependencyGraph) SetEdges(addr Address, targets []Address) error {
	previous := dg.precedents[addr]
	next := make(addressSet, len(targets))
	for _, t := range targets {
		next[t] = struct{}{}
	}
	dg.replace(addr, next)

	if dg.HasCycleThrough(addr) {
		dg.replace(addr, previous)
		return &CellError{
			Address: addr,
			Kind:    CircularReference,
			Message: fmt.Sprintf("formula at %s depends on itself", addr),
		}
	}
	return nil
}

// ClearDependencies removes every precedent of addr. dependents of addr are
// kept since their formulas still read it.
func (dg *DependencyGraph) ClearDependencies(addr Address) {
	dg.replace(addr, nil)
}

// replace swaps the precedent set of addr, keeping the reverse index in
// step and dropping empty sets
func (dg *DependencyGraph) replace(addr Address, next addressSet) {
	for p := range dg.precedents[addr] {
		if deps := dg.dependents[p]; deps != nil {
			delete(deps, addr)
			if len(deps) == 0 {
				delete(dg.dependents, p)
			}
		}
	}
	if len(next) == 0 {
		delete(dg.precedents, addr)
		return
	}
	dg.precedents[addr] = next
	for p := range next {
		deps := dg.dependents[p]
		if deps == nil {
			deps = make(addressSet)
			dg.dependents[p] = deps
		}
		deps[addr] = struct{}{}
	}
}

// node colors for depth-first traversal
const (
	white = iota // not visited
	gray         // on the current path
	black        // finished
)

type dfsFrame struct {
	addr      Address
	neighbors []Address
	next      int
}

// HasCycleThrough reports whether following precedents from addr reaches a
// node that is still on the current path. the graph is acyclic before any
// single SetEdges call, so a new cycle has to pass through the edited cell.
func (dg *DependencyGraph) HasCycleThrough(addr Address) bool {
	color := map[Address]int{addr: gray}
	stack := []*dfsFrame{{addr: addr, neighbors: dg.precedents[addr].sorted()}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == len(top.neighbors) {
			color[top.addr] = black
			stack = stack[:len(stack)-1]
			continue
		}
		n := top.neighbors[top.next]
		top.next++
		switch color[n] {
		case gray:
			return true
		case white:
			color[n] = gray
			stack = append(stack, &dfsFrame{addr: n, neighbors: dg.precedents[n].sorted()})
		}
	}
	return false
}

// TopologicalOrder returns seed and every cell transitively depending on it,
// each after all of the cells it reads. with a single seed the seed comes
// first. ties are broken row-major so the order is deterministic.
func (dg *DependencyGraph) TopologicalOrder(seed ...Address) []Address {
	color := make(map[Address]int)
	var postorder []Address

	roots := slices.Clone(seed)
	slices.SortFunc(roots, compareAddresses)
	// reverse postorder puts the last finished root first, so visit roots
	// backwards to keep the first seed in front
	for i := len(roots) - 1; i >= 0; i-- {
		root := roots[i]
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []*dfsFrame{{addr: root, neighbors: dg.reversedDependents(root)}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next == len(top.neighbors) {
				color[top.addr] = black
				postorder = append(postorder, top.addr)
				stack = stack[:len(stack)-1]
				continue
			}
			n := top.neighbors[top.next]
			top.next++
			if color[n] == white {
				color[n] = gray
				stack = append(stack, &dfsFrame{addr: n, neighbors: dg.reversedDependents(n)})
			}
		}
	}

	slices.Reverse(postorder)
	return postorder
}

// reversedDependents lists dependents in reverse row-major order, so after
// the final reversal siblings come out row-major
func (dg *DependencyGraph) reversedDependents(addr Address) []Address {
	deps := dg.dependents[addr].sorted()
	slices.Reverse(deps)
	return deps
}

// GetDirectPrecedents returns the cells addr reads, row-major
func (dg *DependencyGraph) GetDirectPrecedents(addr Address) []Address {
	return dg.precedents[addr].sorted()
}

// GetDirectDependents returns the cells reading addr, row-major
func (dg *DependencyGraph) GetDirectDependents(addr Address) []Address {
	return dg.dependents[addr].sorted()
}

// GetAllDependents returns every cell transitively depending on addr, in
// calculation order, addr excluded
func (dg *DependencyGraph) GetAllDependents(addr Address) []Address {
	order := dg.TopologicalOrder(addr)
	return order[1:]
}

// NodeCount returns the number of addresses taking part in at least one edge
func (dg *DependencyGraph) NodeCount() int {
	nodes := make(addressSet, len(dg.precedents)+len(dg.dependents))
	for addr := range dg.precedents {
		nodes[addr] = struct{}{}
	}
	for addr := range dg.dependents {
		nodes[addr] = struct{}{}
	}
	return len(nodes)
}

// EdgeCount returns the number of edges
func (dg *DependencyGraph) EdgeCount() int {
	n := 0
	for _, set := range dg.precedents {
		n += len(set)
	}
	return n
}

// Clear removes all nodes and edges
func (dg *DependencyGraph) Clear() {
	dg.precedents = make(map[Address]addressSet)
	dg.dependents = make(map[Address]addressSet)
}
