package expr

import (
	"bytes"
	"cmp"
	"math"

	"github.com/wippyai/wasm-watermarker/wasm"
)

// Compare is a total order on trees that is invariant under Swap: a tree
// compares equal to any copy of it with swappable operands exchanged.
// Swappable nodes are compared in the normalized form where the smaller
// operand comes first.
func Compare(a, b *Node) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}

	opA, operandsA := normalize(a)
	opB, operandsB := normalize(b)
	if c := cmp.Compare(opA, opB); c != 0 {
		return c
	}
	if c := compareImm(a.Instr, b.Instr); c != 0 {
		return c
	}
	if c := compareList(operandsA, operandsB); c != 0 {
		return c
	}
	if c := compareList(a.Body, b.Body); c != 0 {
		return c
	}
	if a.HasElse != b.HasElse {
		if a.HasElse {
			return 1
		}
		return -1
	}
	if c := compareList(a.Else, b.Else); c != 0 {
		return c
	}
	return bytes.Compare(wasm.EncodeInstructions(a.Raw), wasm.EncodeInstructions(b.Raw))
}

// Equal reports whether two trees are equivalent under Compare.
func Equal(a, b *Node) bool {
	return Compare(a, b) == 0
}

func normalize(n *Node) (byte, []*Node) {
	if n.Swappable() && Compare(n.Operands[0], n.Operands[1]) > 0 {
		return Mirror(n.Instr.Opcode), []*Node{n.Operands[1], n.Operands[0]}
	}
	return n.Instr.Opcode, n.Operands
}

func compareList(a, b []*Node) int {
	for i := range min(len(a), len(b)) {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareImm(a, b wasm.Instruction) int {
	switch x := a.Imm.(type) {
	case nil:
		if b.Imm == nil {
			return 0
		}
	case wasm.I32Imm:
		if y, ok := b.Imm.(wasm.I32Imm); ok {
			return cmp.Compare(x.Value, y.Value)
		}
	case wasm.I64Imm:
		if y, ok := b.Imm.(wasm.I64Imm); ok {
			return cmp.Compare(x.Value, y.Value)
		}
	case wasm.F32Imm:
		if y, ok := b.Imm.(wasm.F32Imm); ok {
			return cmp.Compare(math.Float32bits(x.Value), math.Float32bits(y.Value))
		}
	case wasm.F64Imm:
		if y, ok := b.Imm.(wasm.F64Imm); ok {
			return cmp.Compare(math.Float64bits(x.Value), math.Float64bits(y.Value))
		}
	case wasm.LocalImm:
		if y, ok := b.Imm.(wasm.LocalImm); ok {
			return cmp.Compare(x.LocalIdx, y.LocalIdx)
		}
	case wasm.GlobalImm:
		if y, ok := b.Imm.(wasm.GlobalImm); ok {
			return cmp.Compare(x.GlobalIdx, y.GlobalIdx)
		}
	case wasm.CallImm:
		if y, ok := b.Imm.(wasm.CallImm); ok {
			return cmp.Compare(x.FuncIdx, y.FuncIdx)
		}
	case wasm.CallIndirectImm:
		if y, ok := b.Imm.(wasm.CallIndirectImm); ok {
			if c := cmp.Compare(x.TypeIdx, y.TypeIdx); c != 0 {
				return c
			}
			return cmp.Compare(x.TableIdx, y.TableIdx)
		}
	case wasm.MemoryImm:
		if y, ok := b.Imm.(wasm.MemoryImm); ok {
			if c := cmp.Compare(x.Offset, y.Offset); c != 0 {
				return c
			}
			if c := cmp.Compare(x.Align, y.Align); c != 0 {
				return c
			}
			return cmp.Compare(x.MemIdx, y.MemIdx)
		}
	case wasm.MemoryIdxImm:
		if y, ok := b.Imm.(wasm.MemoryIdxImm); ok {
			return cmp.Compare(x.MemIdx, y.MemIdx)
		}
	case wasm.BlockImm:
		if y, ok := b.Imm.(wasm.BlockImm); ok {
			return cmp.Compare(x.Type, y.Type)
		}
	case wasm.BranchImm:
		if y, ok := b.Imm.(wasm.BranchImm); ok {
			return cmp.Compare(x.LabelIdx, y.LabelIdx)
		}
	}
	return bytes.Compare(wasm.AppendInstruction(nil, a), wasm.AppendInstruction(nil, b))
}
