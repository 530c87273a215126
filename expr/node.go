package expr

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-watermarker/wasm"
)

// Kind tags the shape of a node.
type Kind uint8

const (
	KindConst Kind = iota
	KindNop
	KindLocalGet
	KindLocalSet
	KindLocalTee
	KindGlobalGet
	KindGlobalSet
	KindLoad
	KindStore
	KindMemorySize
	KindMemoryGrow
	KindUnary
	KindBinary
	KindSelect
	KindDrop
	KindCall
	KindCallIndirect
	KindBlock
	KindLoop
	KindIf
	KindBr
	KindBrIf
	KindBrTable
	KindReturn
	KindUnreachable
	// KindOpaque covers every instruction the builder does not model,
	// including whole try and try_table regions.
	KindOpaque
)

var kindNames = [...]string{
	KindConst:        "const",
	KindNop:          "nop",
	KindLocalGet:     "local.get",
	KindLocalSet:     "local.set",
	KindLocalTee:     "local.tee",
	KindGlobalGet:    "global.get",
	KindGlobalSet:    "global.set",
	KindLoad:         "load",
	KindStore:        "store",
	KindMemorySize:   "memory.size",
	KindMemoryGrow:   "memory.grow",
	KindUnary:        "unary",
	KindBinary:       "binary",
	KindSelect:       "select",
	KindDrop:         "drop",
	KindCall:         "call",
	KindCallIndirect: "call_indirect",
	KindBlock:        "block",
	KindLoop:         "loop",
	KindIf:           "if",
	KindBr:           "br",
	KindBrIf:         "br_if",
	KindBrTable:      "br_table",
	KindReturn:       "return",
	KindUnreachable:  "unreachable",
	KindOpaque:       "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Node is one instruction together with the subtrees it owns.
//
// Operands are the producers of the node's stack inputs, in stack order.
// Body and Else hold the nested sequences of block, loop and if. Raw holds
// the undecoded remainder of an opaque region, closing instruction included.
type Node struct {
	Instr    wasm.Instruction
	Operands []*Node
	Body     []*Node
	Else     []*Node
	Raw      []wasm.Instruction
	Kind     Kind
	HasElse  bool

	// pushes is the number of values left on the stack, -1 if unknown.
	pushes   int
	// complete is set when every stack input of the node is owned by it.
	complete bool
}

// Op returns the node's opcode.
func (n *Node) Op() byte {
	return n.Instr.Opcode
}

// Swappable reports whether the node is a binary operation with two owned
// operands whose order can be exchanged by Swap.
func (n *Node) Swappable() bool {
	return n.Kind == KindBinary && len(n.Operands) == 2 && IsSwappable(n.Instr.Opcode)
}

// Swap exchanges the two operands of a swappable binary node and replaces
// the operator by its mirror, preserving the computed value.
func (n *Node) Swap() {
	if !n.Swappable() {
		panic("expr: swap of non-swappable node")
	}
	n.Operands[0], n.Operands[1] = n.Operands[1], n.Operands[0]
	n.Instr.Opcode = Mirror(n.Instr.Opcode)
}

// String renders the node in folded text format.
func (n *Node) String() string {
	var b strings.Builder
	n.format(&b)
	return b.String()
}

func (n *Node) format(b *strings.Builder) {
	b.WriteByte('(')
	b.WriteString(n.Instr.Name())
	if imm := immString(n.Instr); imm != "" {
		b.WriteByte(' ')
		b.WriteString(imm)
	}
	for _, op := range n.Operands {
		b.WriteByte(' ')
		op.format(b)
	}
	for _, c := range n.Body {
		b.WriteByte(' ')
		c.format(b)
	}
	if n.HasElse {
		b.WriteString(" (else")
		for _, c := range n.Else {
			b.WriteByte(' ')
			c.format(b)
		}
		b.WriteByte(')')
	}
	if len(n.Raw) > 0 {
		fmt.Fprintf(b, " ...%d", len(n.Raw))
	}
	b.WriteByte(')')
}

func immString(in wasm.Instruction) string {
	switch imm := in.Imm.(type) {
	case wasm.I32Imm:
		return fmt.Sprint(imm.Value)
	case wasm.I64Imm:
		return fmt.Sprint(imm.Value)
	case wasm.F32Imm:
		return fmt.Sprint(imm.Value)
	case wasm.F64Imm:
		return fmt.Sprint(imm.Value)
	case wasm.LocalImm:
		return fmt.Sprint(imm.LocalIdx)
	case wasm.GlobalImm:
		return fmt.Sprint(imm.GlobalIdx)
	case wasm.CallImm:
		return fmt.Sprint(imm.FuncIdx)
	case wasm.BranchImm:
		return fmt.Sprint(imm.LabelIdx)
	case wasm.MemoryImm:
		if imm.Offset != 0 {
			return fmt.Sprintf("offset=%d", imm.Offset)
		}
	}
	return ""
}
