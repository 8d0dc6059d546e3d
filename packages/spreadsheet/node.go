package spreadsheet

import (
	"strconv"
	"strings"
)

// NodeKind tags the variant held by a Node
type NodeKind uint8

const (
	NodeLiteral NodeKind = iota
	NodeReference
	NodeRange
	NodeUnary
	NodeBinary
	NodeCall
)

// Operator is a unary or binary operator
type Operator uint8

const (
	OpAdd Operator = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpPower
	OpConcat
	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpNegate
	OpPlus
)

var operatorSymbols = [...]string{
	OpAdd:          "+",
	OpSubtract:     "-",
	OpMultiply:     "*",
	OpDivide:       "/",
	OpPower:        "^",
	OpConcat:       "&",
	OpEqual:        "=",
	OpNotEqual:     "<>",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpNegate:       "-",
	OpPlus:         "+",
}

func (op Operator) String() string {
	if int(op) < len(operatorSymbols) {
		return operatorSymbols[op]
	}
	return "?"
}

// Node is one expression tree node. which fields are set depends on Kind:
//   - NodeLiteral: Value
//   - NodeReference: Ref
//   - NodeRange: Ref (top-left) and RangeEnd (bottom-right)
//   - NodeUnary: Op and Args[0]
//   - NodeBinary: Op, Args[0] and Args[1]
//   - NodeCall: Name and Args
type Node struct {
	Kind     NodeKind
	Value    Value
	Ref      Address
	RangeEnd Address
	Op       Operator
	Name     string
	Args     []*Node
	Pos      int
}

func literalNode(v Value, pos int) *Node { return &Node{Kind: NodeLiteral, Value: v, Pos: pos} }

func referenceNode(addr Address, pos int) *Node {
	return &Node{Kind: NodeReference, Ref: addr, Pos: pos}
}

func rangeNode(r Range, pos int) *Node {
	return &Node{Kind: NodeRange, Ref: r.Start, RangeEnd: r.End, Pos: pos}
}

func unaryNode(op Operator, operand *Node, pos int) *Node {
	return &Node{Kind: NodeUnary, Op: op, Args: []*Node{operand}, Pos: pos}
}

func binaryNode(op Operator, left, right *Node, pos int) *Node {
	return &Node{Kind: NodeBinary, Op: op, Args: []*Node{left, right}, Pos: pos}
}

func callNode(name string, args []*Node, pos int) *Node {
	return &Node{Kind: NodeCall, Name: name, Args: args, Pos: pos}
}

// Range returns the range covered by a NodeRange node
func (n *Node) Range() Range { return Range{Start: n.Ref, End: n.RangeEnd} }

// Walk visits n and its descendants depth-first, parents before children
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, arg := range n.Args {
		arg.Walk(fn)
	}
}

// References returns every single-cell reference and range in the tree in
// the order they appear
func (n *Node) References() (cells []Address, ranges []Range) {
	n.Walk(func(node *Node) {
		switch node.Kind {
		case NodeReference:
			cells = append(cells, node.Ref)
		case NodeRange:
			ranges = append(ranges, node.Range())
		}
	})
	return cells, ranges
}

// String renders the tree with every operation parenthesized, which makes
// precedence visible in tests and logs
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	switch n.Kind {
	case NodeLiteral:
		if n.Value.Type == ValueTypeString {
			sb.WriteString(strconv.Quote(n.Value.Text))
			return
		}
		sb.WriteString(n.Value.String())
	case NodeReference:
		sb.WriteString(n.Ref.String())
	case NodeRange:
		sb.WriteString(n.Range().String())
	case NodeUnary:
		sb.WriteByte('(')
		sb.WriteString(n.Op.String())
		n.Args[0].write(sb)
		sb.WriteByte(')')
	case NodeBinary:
		sb.WriteByte('(')
		n.Args[0].write(sb)
		sb.WriteString(n.Op.String())
		n.Args[1].write(sb)
		sb.WriteByte(')')
	case NodeCall:
		sb.WriteString(n.Name)
		sb.WriteByte('(')
		for i, arg := range n.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			arg.write(sb)
		}
		sb.WriteByte(')')
	}
}
